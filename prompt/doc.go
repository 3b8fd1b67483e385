// Package prompt provides prompt template loading and management.
//
// Core types:
//   - Loader: Loads prompt templates from project directories or embedded resources
//   - Builder: Constructs prompts programmatically from markdown sections
//
// Example usage:
//
//	loader := prompt.NewLoader(projectDir)
//	text, err := loader.LoadWithVars("generate-playbook", map[string]any{
//	    "Name":        "deploy-nginx",
//	    "Description": "Install and configure nginx with TLS",
//	})
//
// Prompts are plain text files with Go template syntax. A project can
// override any embedded prompt by placing a file with the same name
// under .autoflow/prompts/.
package prompt
