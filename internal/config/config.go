package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the top-level configuration for cla-compile
type Config struct {
	// Hardware describes the register resources of the CLA block
	Hardware HardwareConfig `json:"hardware,omitempty"`

	// Opcodes maps mnemonic names to the encodings the hardware expects
	Opcodes OpcodeConfig `json:"opcodes,omitempty"`

	// Lint contains lint rule configuration
	Lint LintConfig `json:"lint,omitempty"`

	// Output contains artifact options
	Output OutputConfig `json:"output,omitempty"`

	// Log contains diagnostic output options
	Log LogConfig `json:"log,omitempty"`
}

// HardwareConfig holds the resource limits of the CLA block
type HardwareConfig struct {
	DebugInputWidth     int `json:"debugInputWidth,omitempty"`
	MatchRegisters      int `json:"matchRegisters,omitempty"`
	Counters            int `json:"counters,omitempty"`
	EdgeDetectors       int `json:"edgeDetectors,omitempty"`
	TransitionDetectors int `json:"transitionDetectors,omitempty"`
	OnesCountDetectors  int `json:"onesCountDetectors,omitempty"`
	AnyChangeDetectors  int `json:"anyChangeDetectors,omitempty"`
	Nodes               int `json:"nodes,omitempty"`
	EventsPerEAP        int `json:"eventsPerEap,omitempty"`
	EAPsPerNode         int `json:"eapsPerNode,omitempty"`
	ActionsPerEAP       int `json:"actionsPerEap,omitempty"`
	CustomActionsPerEAP int `json:"customActionsPerEap,omitempty"`

	// DelayLanes is the number of delay-compensation segments on the debug input
	DelayLanes int `json:"delayLanes,omitempty"`
}

// OpcodeConfig holds the encodings of logical operators, actions and events
type OpcodeConfig struct {
	Logical map[string]uint64 `json:"logical,omitempty"`
	Actions map[string]uint64 `json:"actions,omitempty"`
	Events  map[string]uint64 `json:"events,omitempty"`
}

// LintConfig contains lint configuration
type LintConfig struct {
	// Enabled turns the policy pass on or off
	Enabled *bool `json:"enabled,omitempty"`

	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty"`

	// PolicyDir holds extra .rego modules evaluated next to the built-in rules
	PolicyDir string `json:"policyDir,omitempty"`
}

// OutputConfig contains artifact options
type OutputConfig struct {
	// RegisterAddresses maps register names to APB addresses (hex strings)
	RegisterAddresses map[string]string `json:"registerAddresses,omitempty"`
}

// LogConfig contains diagnostic output options
type LogConfig struct {
	// Console is the minimum level printed to stderr
	Console string `json:"console,omitempty"`

	// File is an optional log file path
	File string `json:"file,omitempty"`

	// FileLevel is the minimum level written to File
	FileLevel string `json:"fileLevel,omitempty"`
}

// DefaultHardware returns the limits of the shipping CLA block
func DefaultHardware() HardwareConfig {
	return HardwareConfig{
		DebugInputWidth:     64,
		MatchRegisters:      4,
		Counters:            4,
		EdgeDetectors:       2,
		TransitionDetectors: 1,
		OnesCountDetectors:  1,
		AnyChangeDetectors:  1,
		Nodes:               4,
		EventsPerEAP:        3,
		EAPsPerNode:         4,
		ActionsPerEAP:       4,
		CustomActionsPerEAP: 2,
		DelayLanes:          8,
	}
}

// DefaultOpcodes returns the encodings of the shipping CLA block
func DefaultOpcodes() OpcodeConfig {
	ops := OpcodeConfig{
		Logical: map[string]uint64{
			"OR":   0x0,
			"AND":  0x1,
			"NONE": 0x2,
			"NOR":  0x3,
		},
		Actions: map[string]uint64{
			"NULL":            0x0,
			"CLOCK_HALT":      0x1,
			"DEBUG_INTERRUPT": 0x2,
			"TOGGLE_GPIO":     0x3,
			"START_TRACE":     0x4,
			"STOP_TRACE":      0x5,
			"TRACE_PULSE":     0x6,
			"CROSS_TRIGGER_0": 0x7,
			"CROSS_TRIGGER_1": 0x8,
			"XTRIGGER_0":      0x7,
			"XTRIGGER_1":      0x8,
		},
		Events: map[string]uint64{
			"DISABLE":              0x0,
			"ALWAYS_ON":            0x1,
			"MATCH_0":              0x2,
			"NOT_MATCH_0":          0x3,
			"MATCH_1":              0x4,
			"NOT_MATCH_1":          0x5,
			"EDGE_DETECT_0":        0x6,
			"EDGE_DETECT_1":        0x7,
			"TRANSITION":           0x8,
			"XTRIGGER_0":           0x9,
			"XTRIGGER_1":           0xa,
			"ONES_COUNT":           0xb,
			"DEBUG_SIGNALS_CHANGE": 0xc,
			"PERIOD_TICK":          0xd,
			"MATCH_2":              0x1c,
			"NOT_MATCH_2":          0x1d,
			"MATCH_3":              0x1e,
			"NOT_MATCH_3":          0x1f,
		},
	}
	for i := uint64(0); i < 4; i++ {
		ops.Actions[fmt.Sprintf("INCREMENT_COUNTER_%d", i)] = 0x10 + 4*i
		ops.Actions[fmt.Sprintf("CLEAR_COUNTER_%d", i)] = 0x11 + 4*i
		ops.Actions[fmt.Sprintf("AUTO_INCREMENT_COUNTER_%d", i)] = 0x12 + 4*i
		ops.Actions[fmt.Sprintf("STOP_AUTO_INCREMENT_COUNTER_%d", i)] = 0x13 + 4*i
		ops.Events[fmt.Sprintf("COUNTER_%d_EQUAL_TARGET", i)] = 0x10 + 3*i
		ops.Events[fmt.Sprintf("COUNTER_%d_GREATER_TARGET", i)] = 0x11 + 3*i
		ops.Events[fmt.Sprintf("COUNTER_%d_LESS_TARGET", i)] = 0x12 + 3*i
	}
	return ops
}

// DefaultRegisterAddresses returns the APB map used by the DV bring-up scripts
func DefaultRegisterAddresses() map[string]string {
	return map[string]string{
		"dbg_cla_counter0_cfg":        "0x3100",
		"dbg_cla_counter1_cfg":        "0x3108",
		"dbg_cla_counter2_cfg":        "0x3110",
		"dbg_cla_counter3_cfg":        "0x3118",
		"dbg_node0_eap0":              "0x3120",
		"dbg_node0_eap1":              "0x3128",
		"dbg_node0_eap2":              "0x3148",
		"dbg_node0_eap3":              "0x3150",
		"dbg_node1_eap0":              "0x3130",
		"dbg_node1_eap1":              "0x3138",
		"dbg_node1_eap2":              "0x3158",
		"dbg_node1_eap3":              "0x31E0",
		"dbg_node2_eap0":              "0x3140",
		"dbg_node2_eap1":              "0x3148",
		"dbg_node2_eap2":              "0x31E8",
		"dbg_node2_eap3":              "0x31F0",
		"dbg_node3_eap0":              "0x31F8",
		"dbg_node3_eap1":              "0x3200",
		"dbg_node3_eap2":              "0x3208",
		"dbg_node3_eap3":              "0x3210",
		"dbg_signal_mask0":            "0x3160",
		"dbg_signal_match0":           "0x3168",
		"dbg_signal_mask1":            "0x3170",
		"dbg_signal_match1":           "0x3178",
		"dbg_signal_mask2":            "0x3228",
		"dbg_signal_match2":           "0x3230",
		"dbg_signal_mask3":            "0x3238",
		"dbg_signal_match3":           "0x3240",
		"dbg_signal_edge_detect_cfg":  "0x3180",
		"dbg_transition_mask":         "0x31B0",
		"dbg_transition_from_value":   "0x31B8",
		"dbg_transition_to_value":     "0x31C0",
		"dbg_ones_count_mask":         "0x31C8",
		"dbg_ones_count_value":        "0x31D0",
		"dbg_any_change":              "0x31D8",
		"dbg_signal_delay_mux_sel":    "0x3218",
		"CrCsrCdbgmuxsel__ID_0":       "0x0198",
		"CrCsrCdbgmuxsel__ID_1":       "0x0198",
		"CrCsrCdbgmuxsel__ID_2":       "0x0198",
		"CrCsrCdbgmuxsel__ID_3":       "0x0198",
		"default_dummy_mux__ID_0":     "0x0198",
	}
}

// DefaultConfig returns the configuration of the shipping CLA block
func DefaultConfig() *Config {
	return &Config{
		Hardware: DefaultHardware(),
		Opcodes:  DefaultOpcodes(),
		Lint: LintConfig{
			Enabled: boolPtr(true),
			Rules:   map[string]string{},
		},
		Output: OutputConfig{
			RegisterAddresses: DefaultRegisterAddresses(),
		},
		Log: LogConfig{
			Console:   "warning",
			FileLevel: "debug",
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./cla_compiler.json (current working directory)
//  2. ./.cla_compiler.json (current working directory)
//  3. <dir of programPath>/cla_compiler.json (if different from cwd)
//  4. ~/.config/cla_compiler/config.json
//
// Returns DefaultConfig if no config file is found
func Load(programPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "cla_compiler.json"),
		filepath.Join(cwd, ".cla_compiler.json"),
	}

	if programPath != "" {
		dir := programPath
		if info, err := os.Stat(programPath); err == nil && !info.IsDir() {
			dir = filepath.Dir(programPath)
		}
		absDir, _ := filepath.Abs(dir)
		if absDir != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(dir, "cla_compiler.json"),
				filepath.Join(dir, ".cla_compiler.json"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "cla_compiler", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	hw := DefaultHardware()
	fill := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}
	fill(&c.Hardware.DebugInputWidth, hw.DebugInputWidth)
	fill(&c.Hardware.MatchRegisters, hw.MatchRegisters)
	fill(&c.Hardware.Counters, hw.Counters)
	fill(&c.Hardware.EdgeDetectors, hw.EdgeDetectors)
	fill(&c.Hardware.TransitionDetectors, hw.TransitionDetectors)
	fill(&c.Hardware.OnesCountDetectors, hw.OnesCountDetectors)
	fill(&c.Hardware.AnyChangeDetectors, hw.AnyChangeDetectors)
	fill(&c.Hardware.Nodes, hw.Nodes)
	fill(&c.Hardware.EventsPerEAP, hw.EventsPerEAP)
	fill(&c.Hardware.EAPsPerNode, hw.EAPsPerNode)
	fill(&c.Hardware.ActionsPerEAP, hw.ActionsPerEAP)
	fill(&c.Hardware.CustomActionsPerEAP, hw.CustomActionsPerEAP)
	fill(&c.Hardware.DelayLanes, hw.DelayLanes)

	// Opcode overrides merge into the defaults rather than replacing them
	ops := DefaultOpcodes()
	c.Opcodes.Logical = mergeOpcodes(ops.Logical, c.Opcodes.Logical)
	c.Opcodes.Actions = mergeOpcodes(ops.Actions, c.Opcodes.Actions)
	c.Opcodes.Events = mergeOpcodes(ops.Events, c.Opcodes.Events)

	if c.Lint.Enabled == nil {
		c.Lint.Enabled = boolPtr(true)
	}
	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}

	if c.Output.RegisterAddresses == nil {
		c.Output.RegisterAddresses = DefaultRegisterAddresses()
	}

	if c.Log.Console == "" {
		c.Log.Console = "warning"
	}
	if c.Log.FileLevel == "" {
		c.Log.FileLevel = "debug"
	}
}

func mergeOpcodes(defaults, overrides map[string]uint64) map[string]uint64 {
	for name, code := range overrides {
		defaults[name] = code
	}
	return defaults
}

// Validate checks the hardware description for values the compiler cannot honor
func (c *Config) Validate() error {
	hw := c.Hardware
	if hw.DebugInputWidth > 64 {
		return fmt.Errorf("debugInputWidth %d exceeds the 64-bit register width", hw.DebugInputWidth)
	}
	if hw.DebugInputWidth%hw.DelayLanes != 0 {
		return fmt.Errorf("debugInputWidth %d is not divisible into %d delay lanes", hw.DebugInputWidth, hw.DelayLanes)
	}
	if hw.EventsPerEAP > 3 {
		return fmt.Errorf("eventsPerEap %d exceeds the 3 event slots of an EAP register", hw.EventsPerEAP)
	}
	for rule, severity := range c.Lint.Rules {
		switch severity {
		case "off", "info", "warning", "error":
		default:
			return fmt.Errorf("lint rule %s: unknown severity %q", rule, severity)
		}
	}
	for reg, addr := range c.Output.RegisterAddresses {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("register address for %s: %w", reg, err)
		}
	}
	return nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true
}

// LintEnabled reports whether the policy pass runs
func (c *Config) LintEnabled() bool {
	return c.Lint.Enabled == nil || *c.Lint.Enabled
}

// RegisterAddress returns the APB address of a register
func (c *Config) RegisterAddress(reg string) (uint64, bool) {
	addr, ok := c.Output.RegisterAddresses[reg]
	if !ok {
		return 0, false
	}
	v, err := ParseAddress(addr)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseAddress parses a hex address with or without the 0x prefix
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return v, nil
}
