// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML configuration in ~/.kbase/config.toml
//   - PromptStore: user-editable oracle prompts in ~/.kbase/prompts
package file
