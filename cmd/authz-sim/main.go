package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
	"github.com/GeorgeMwiki/BOSSNYUMBA101-sub015/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "simulate":
		handleSimulate()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authz-sim - tenant configuration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authz-sim convert <input> <output>       - Convert between formats")
	fmt.Println("  authz-sim validate <file>                - Validate a tenant configuration")
	fmt.Println("  authz-sim stats <file>                   - Show configuration statistics")
	fmt.Println("  authz-sim simulate <config> <scenarios>  - Run authorization scenarios")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authz-sim convert <input> <output>")
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

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-sim validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
	fmt.Printf("  Tenant:      %s\n", cfg.TenantID)
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments: %d users\n", len(cfg.Assignments))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-sim stats <file>")
		os.Exit(1)
	}
	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat, err := os.Stat(filename); err == nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Tenant: %s\n", cfg.TenantID)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments: %d users\n", len(cfg.Assignments))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Println()

	if len(cfg.Roles) > 0 {
		totalPerms := 0
		for _, r := range cfg.Roles {
			totalPerms += len(r.Permissions)
		}
		fmt.Println("Role Details:")
		fmt.Printf("  Total permission grants: %d\n", totalPerms)
		fmt.Printf("  Avg per role:            %.1f\n", float64(totalPerms)/float64(len(cfg.Roles)))
		fmt.Println()
	}

	if len(cfg.Policies) > 0 {
		allow, deny, disabled := 0, 0, 0
		for _, p := range cfg.Policies {
			if !p.Enabled {
				disabled++
			}
			for _, rule := range p.Rules {
				if rule.Effect == authz.EffectAllow {
					allow++
				} else {
					deny++
				}
			}
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow rules:       %d\n", allow)
		fmt.Printf("  Deny rules:        %d\n", deny)
		fmt.Printf("  Disabled policies: %d\n", disabled)
		fmt.Println()
	}

	if len(cfg.Hierarchy) > 0 {
		fmt.Println("Organization Hierarchy:")
		for child, parent := range cfg.Hierarchy {
			fmt.Printf("  %s -> %s\n", child, parent)
		}
	}
}

// Scenario is one simulated authorization request with an optional
// expectation. Scenario files hold a list of these.
type Scenario struct {
	Name        string             `json:"name" yaml:"name"`
	Subject     *authz.Subject     `json:"subject" yaml:"subject"`
	Action      authz.Action       `json:"action" yaml:"action"`
	Resource    *authz.Resource    `json:"resource" yaml:"resource"`
	Environment *authz.Environment `json:"environment,omitempty" yaml:"environment,omitempty"`
	Expect      *bool              `json:"expect,omitempty" yaml:"expect,omitempty"`
}

func handleSimulate() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authz-sim simulate <config> <scenarios>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	scenarios, err := loadScenarios(os.Args[3])
	if err != nil {
		fmt.Printf("Error loading scenarios: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := buildService(ctx, cfg)
	if err != nil {
		fmt.Printf("Error building service: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, sc := range scenarios {
		res, err := svc.Explain(ctx, sc.Subject, sc.Action, sc.Resource, sc.Environment)
		if err != nil {
			fmt.Printf("ERROR %-30s %v\n", sc.Name, err)
			failed++
			continue
		}
		verdict := "DENY "
		if res.Allowed {
			verdict = "ALLOW"
		}
		status := " "
		if sc.Expect != nil && *sc.Expect != res.Allowed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s %-4s %-30s %s\n", verdict, status, sc.Name, res.Reason)
		if res.ABAC != nil {
			for _, tr := range res.ABAC.Trace {
				fmt.Printf("           policy %-24s matched=%v effect=%s rule=%d skipped=%q elapsed=%s\n",
					tr.PolicyID, tr.Matched, tr.Effect, tr.RuleIndex, tr.Skipped, tr.Elapsed)
			}
		}
	}
	if failed > 0 {
		fmt.Printf("\n%d scenario(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Printf("\nAll %d scenario(s) passed\n", len(scenarios))
}

func buildService(ctx context.Context, cfg *authz.TenantConfig) (*authz.Service, error) {
	roleStore := stores.NewMemoryRoleStore()
	policyStore := stores.NewMemoryPolicyStore()
	for _, r := range cfg.Roles {
		if err := roleStore.CreateRole(ctx, r); err != nil {
			return nil, err
		}
	}
	for userID, asgs := range cfg.Assignments {
		for _, asg := range asgs {
			if err := roleStore.AssignRole(ctx, cfg.TenantID, userID, asg); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range cfg.Policies {
		if err := policyStore.CreatePolicy(ctx, p); err != nil {
			return nil, err
		}
	}

	svcCfg := authz.DefaultConfig()
	if cfg.Service != nil {
		svcCfg = *cfg.Service
	}

	opts := []authz.ServiceOption{}
	if len(cfg.Hierarchy) > 0 {
		orgs := stores.NewMemoryOrgResolver()
		for child, parent := range cfg.Hierarchy {
			orgs.AddParent(child, parent)
		}
		opts = append(opts, authz.WithServiceOrgResolver(orgs))
	}
	return authz.BuildService(roleStore, policyStore, svcCfg, opts...)
}

func loadConfig(filename string) (*authz.TenantConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	loader := authz.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
}

func loadScenarios(filename string) ([]Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var scenarios []Scenario
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &scenarios)
	case ".json":
		err = json.Unmarshal(data, &scenarios)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	return scenarios, nil
}

func saveConfig(cfg *authz.TenantConfig, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
