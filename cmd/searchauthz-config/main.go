package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oarkflow/searchauthz"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "convert":
		handleConvert()
	case "tenant-id":
		handleTenantID()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("searchauthz-config - Security configuration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  searchauthz-config validate <file>          - Validate configuration")
	fmt.Println("  searchauthz-config stats <file>             - Show configuration statistics")
	fmt.Println("  searchauthz-config convert <input> <output> - Convert between formats")
	fmt.Println("  searchauthz-config tenant-id <name>         - Print the internal tenant id")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func loadConfig(path string) (*searchauthz.RawConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return searchauthz.LoadConfigYAML(f)
	case ".json":
		return searchauthz.LoadConfigJSON(f)
	default:
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
}

func saveConfig(cfg *searchauthz.RawConfig, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: searchauthz-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if _, err := cfg.Build(); err != nil {
		if verr, ok := err.(*searchauthz.ValidationError); ok {
			fmt.Printf("Configuration is invalid (%d issue(s)):\n", len(verr.Issues))
			for _, iss := range verr.Issues {
				fmt.Printf("  - %s\n", iss)
			}
		} else {
			fmt.Printf("Configuration is invalid: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: searchauthz-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-20s %d\n", k, stats[k])
	}
	if cfg.MultiTenancy.Enabled {
		fmt.Printf("%-20s %s\n", "frontend_index", cfg.MultiTenancy.FrontendIndex)
	}
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: searchauthz-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleTenantID() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: searchauthz-config tenant-id <name>")
		os.Exit(1)
	}
	fmt.Println(searchauthz.InternalTenantID(os.Args[2]))
}
