// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

// Sample markdown documents for consistent testing across packages.

// TwoStepCommentDoc is a two-step chain gated by comment proofs.
const TwoStepCommentDoc = "# Build and Test\n" +
	"\n" +
	"## Run the build\n" +
	"\n" +
	"Run make in the repository root and confirm the build finishes without errors. The build and test cycle starts here.\n" +
	"\n" +
	"```json\n" +
	"{\"challenge\": {\"type\": \"comment\", \"comment\": {\"min_length\": 10}}}\n" +
	"```\n" +
	"\n" +
	"## Run the tests\n" +
	"\n" +
	"Run make test and confirm every test in the suite passes before moving on.\n" +
	"\n" +
	"```json\n" +
	"{\"challenge\": {\"type\": \"comment\", \"comment\": {\"min_length\": 10}}}\n" +
	"```\n"

// ShellProofDoc is a single-step chain with the PROOF OF WORK shorthand.
const ShellProofDoc = "# Deploy Service\n" +
	"\n" +
	"Build the image and push it to the registry.\n" +
	"\n" +
	"PROOF OF WORK: timeout 2m make deploy\n"

// ThreeStepMixedDoc exercises all three proof block types in one chain.
const ThreeStepMixedDoc = "# Release Checklist\n" +
	"\n" +
	"## Tag the release\n" +
	"\n" +
	"Create the release tag from the main branch.\n" +
	"\n" +
	"```json\n" +
	"{\"challenge\": {\"type\": \"shell\", \"shell\": {\"cmd\": \"git tag\", \"timeout_seconds\": 30}}}\n" +
	"```\n" +
	"\n" +
	"## Notify the channel\n" +
	"\n" +
	"Post the release notes using the notification tool.\n" +
	"\n" +
	"```json\n" +
	"{\"challenge\": {\"type\": \"mcp\", \"mcp\": {\"tool_name\": \"post_message\"}}}\n" +
	"```\n" +
	"\n" +
	"## Confirm with the operator\n" +
	"\n" +
	"Ask the on-call operator to confirm the rollout looks healthy.\n" +
	"\n" +
	"```json\n" +
	"{\"challenge\": {\"type\": \"user_input\", \"user_input\": {\"prompt\": \"Rollout healthy?\"}}}\n" +
	"```\n"
