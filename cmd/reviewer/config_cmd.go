package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/git"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get and set reviewer configuration",
		Long:  "Inspect or modify reviewer configuration values. Similar to git config.",
	}

	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configListCmd())

	return cmd
}

// repoRoot returns the enclosing git repository root.
func repoRoot(cmd *cobra.Command) (string, error) {
	root, err := git.RepoRoot(cmd.Context(), ".")
	if err != nil {
		return "", fmt.Errorf("not a git repository")
	}
	return root, nil
}

func configGetCmd() *cobra.Command {
	var globalFlag, localFlag bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			if globalFlag && localFlag {
				return fmt.Errorf("cannot use both --global and --local")
			}

			if globalFlag {
				cfg, err := config.LoadGlobal()
				if err != nil {
					return fmt.Errorf("load global config: %w", err)
				}
				val, err := config.GetConfigValue(cfg, key)
				if err != nil {
					return err
				}
				if !config.IsConfigValueSet(cfg, key) {
					return fmt.Errorf("key %q is not set in global config", key)
				}
				fmt.Println(val)
				return nil
			}

			if localFlag {
				root, err := repoRoot(cmd)
				if err != nil {
					return err
				}
				repoCfg, err := config.LoadRepoConfig(root)
				if err != nil {
					return fmt.Errorf("load repo config: %w", err)
				}
				if repoCfg == nil {
					return fmt.Errorf("no local config (%s) found", config.RepoConfigName)
				}
				val, err := config.GetConfigValue(repoCfg, key)
				if err != nil {
					return err
				}
				if !config.IsConfigValueSet(repoCfg, key) {
					return fmt.Errorf("key %q is not set in local config", key)
				}
				fmt.Println(val)
				return nil
			}

			// Merged: try local first, then global
			if !config.IsValidKey(key) {
				return fmt.Errorf("unknown config key: %q", key)
			}

			if root, err := git.RepoRoot(cmd.Context(), "."); err == nil {
				if repoCfg, loadErr := config.LoadRepoConfig(root); loadErr == nil && repoCfg != nil {
					if config.IsConfigValueSet(repoCfg, key) {
						val, err := config.GetConfigValue(repoCfg, key)
						if err != nil {
							return err
						}
						fmt.Println(val)
						return nil
					}
				}
			}

			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load global config: %w", err)
			}
			val, err := config.GetConfigValue(cfg, key)
			if err != nil {
				return err
			}
			if !config.IsConfigValueSet(cfg, key) {
				return fmt.Errorf("key %q is not set", key)
			}
			fmt.Println(val)
			return nil
		},
	}

	cmd.Flags().BoolVar(&globalFlag, "global", false, "get from global config only")
	cmd.Flags().BoolVar(&localFlag, "local", false, "get from local repo config only")

	return cmd
}

func configSetCmd() *cobra.Command {
	var globalFlag, localFlag bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if globalFlag && localFlag {
				return fmt.Errorf("cannot use both --global and --local")
			}

			if localFlag {
				root, err := repoRoot(cmd)
				if err != nil {
					return err
				}
				return setLocalKey(filepath.Join(root, config.RepoConfigName), key, value)
			}

			// Default (and --global): set in global config
			return setGlobalKey(config.GlobalConfigPath(), key, value)
		},
	}

	cmd.Flags().BoolVar(&globalFlag, "global", false, "set in global config (default)")
	cmd.Flags().BoolVar(&localFlag, "local", false, "set in repo overlay (.reviewer.yaml)")

	return cmd
}

func configListCmd() *cobra.Command {
	var globalFlag, localFlag bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configuration values with their origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalFlag && localFlag {
				return fmt.Errorf("cannot use both --global and --local")
			}

			if globalFlag {
				cfg, err := config.LoadGlobal()
				if err != nil {
					return fmt.Errorf("load global config: %w", err)
				}
				printKeyValues(config.ListConfigKeys(cfg))
				return nil
			}

			if localFlag {
				root, err := repoRoot(cmd)
				if err != nil {
					return err
				}
				repoCfg, err := config.LoadRepoConfig(root)
				if err != nil {
					return fmt.Errorf("load repo config: %w", err)
				}
				if repoCfg == nil {
					return fmt.Errorf("no local config (%s) found", config.RepoConfigName)
				}
				printKeyValues(config.ListConfigKeys(repoCfg))
				return nil
			}

			// Merged view: every effective value labeled with where it
			// came from (default, global, or local overlay).
			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load global config: %w", err)
			}
			rawGlobal, err := config.LoadRawGlobal()
			if err != nil {
				return fmt.Errorf("load global config: %w", err)
			}

			var repoCfg *config.RepoConfig
			var rawRepo map[string]interface{}
			if root, err := git.RepoRoot(cmd.Context(), "."); err == nil {
				repoCfg, _ = config.LoadRepoConfig(root)
				rawRepo, _ = config.LoadRawRepo(root)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, kvo := range config.MergedConfigWithOrigin(cfg, repoCfg, rawGlobal, rawRepo) {
				val := kvo.Value
				if config.IsSensitiveKey(kvo.Key) {
					val = config.MaskValue(val)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", kvo.Origin, kvo.Key, val)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&globalFlag, "global", false, "list global config only")
	cmd.Flags().BoolVar(&localFlag, "local", false, "list local repo config only")

	return cmd
}

// printKeyValues prints key-value pairs, masking sensitive values
func printKeyValues(kvs []config.KeyValue) {
	for _, kv := range kvs {
		val := kv.Value
		if config.IsSensitiveKey(kv.Key) {
			val = config.MaskValue(val)
		}
		fmt.Printf("%s=%s\n", kv.Key, val)
	}
}

// validateKeyValue checks the key against both config shapes and
// returns the value coerced to the field's native type.
func validateKeyValue(key, value string) (interface{}, error) {
	globalCfg := &config.Config{}
	repoCfg := &config.RepoConfig{}
	var validated interface{}
	if err := config.SetConfigValue(globalCfg, key, value); err == nil {
		validated = globalCfg
	} else if err := config.SetConfigValue(repoCfg, key, value); err == nil {
		validated = repoCfg
	} else {
		return nil, fmt.Errorf("unknown config key: %q", key)
	}
	return coerceValue(validated, key, value), nil
}

// setGlobalKey sets a key in the global TOML file using raw map
// manipulation to avoid writing default values for every field.
func setGlobalKey(path, key, value string) error {
	raw, err := config.LoadRawTOML(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]interface{})
	}

	coerced, err := validateKeyValue(key, value)
	if err != nil {
		return err
	}
	setRawMapKey(raw, key, coerced)

	return writeConfigFile(path, func(f *os.File) error {
		return toml.NewEncoder(f).Encode(raw)
	})
}

// setLocalKey sets a key in the repo overlay, which is YAML.
func setLocalKey(path, key, value string) error {
	raw := make(map[string]interface{})
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	coerced, err := validateKeyValue(key, value)
	if err != nil {
		return err
	}
	setRawMapKey(raw, key, coerced)

	return writeConfigFile(path, func(f *os.File) error {
		data, err := yaml.Marshal(raw)
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	})
}

// writeConfigFile writes through a temp file and rename, preserving
// the permissions of an existing file.
func writeConfigFile(path string, encode func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var mode os.FileMode = 0644
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".reviewer-config-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath) // clean up on any failure; no-op after successful rename

	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// setRawMapKey sets a value in a nested map using dot-separated keys.
func setRawMapKey(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")

	if len(parts) == 1 {
		m[parts[0]] = value
		return
	}

	current := m
	for _, part := range parts[:len(parts)-1] {
		if sub, ok := current[part]; ok {
			if subMap, ok := sub.(map[string]interface{}); ok {
				current = subMap
			} else {
				newMap := make(map[string]interface{})
				current[part] = newMap
				current = newMap
			}
		} else {
			newMap := make(map[string]interface{})
			current[part] = newMap
			current = newMap
		}
	}

	current[parts[len(parts)-1]] = value
}

// coerceValue uses the typed config struct to determine the correct
// native type for the given key's value.
func coerceValue(validationCfg interface{}, key, rawVal string) interface{} {
	v := reflect.ValueOf(validationCfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field, err := config.FindFieldByKey(v, key)
	if err != nil {
		// Unreachable: key was already validated by SetConfigValue.
		// Fall back to raw string to avoid panicking on impossible paths.
		return rawVal
	}

	switch field.Kind() {
	case reflect.String:
		return rawVal
	case reflect.Bool:
		return field.Bool()
	case reflect.Int, reflect.Int64:
		return field.Int()
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			result := make([]interface{}, field.Len())
			for i := 0; i < field.Len(); i++ {
				result[i] = field.Index(i).String()
			}
			return result
		}
		return rawVal
	case reflect.Ptr:
		if field.IsNil() {
			return rawVal
		}
		elem := field.Elem()
		if elem.Kind() == reflect.Bool {
			return elem.Bool()
		}
		return rawVal
	default:
		return rawVal
	}
}
