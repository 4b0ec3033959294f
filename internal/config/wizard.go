package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard asks for the essential settings on a terminal
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a configuration wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through provider, model, API key, turn budget and log level.
// Empty answers keep the defaults.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== stirrup configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	for {
		provider, err := w.ask(fmt.Sprintf("Provider (%s)", strings.Join(validProviders, "/")), cfg.Model.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Model.Provider = provider
		break
	}

	if cfg.Model.Provider == "anthropic" {
		cfg.Model.Name = "claude-sonnet-4-5"
		cfg.Model.MaxTokens = 200000
	}
	model, err := w.ask("Model name", cfg.Model.Name)
	if err != nil {
		return nil, err
	}
	cfg.Model.Name = model

	for {
		key, err := w.ask(fmt.Sprintf("API key (Enter to use $%s)", providerKeyEnv[cfg.Model.Provider]), "")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key, cfg.Model.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Model.APIKey = key
		break
	}

	for {
		answer, err := w.ask("Max turns per run", strconv.Itoa(cfg.Agent.MaxTurns))
		if err != nil {
			return nil, err
		}
		turns, err := strconv.Atoi(answer)
		if err != nil || turns <= 0 {
			fmt.Fprintln(w.out, "Error: max turns must be a positive number")
			continue
		}
		cfg.Agent.MaxTurns = turns
		break
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")
	return cfg, nil
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}
