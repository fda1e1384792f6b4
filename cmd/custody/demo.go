package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chazu/custody/audit"
	"github.com/chazu/custody/bridge"
	"github.com/chazu/custody/manifest"
	"github.com/chazu/custody/vm"
)

// scenario drives one host choice against a fresh VM.
type scenario struct {
	name string
	host string
	run  func(machine *vm.VM) (vm.Value, error)
}

// outcome is what a scenario produced and which custody events it caused.
type outcome struct {
	Scenario string
	Host     string
	Result   string
	Events   []string
}

func scriptRaise(className, message string) vm.Block {
	return func(v *vm.VM) vm.Value {
		v.Signal(className, message)
		return nil
	}
}

func nativeHandler(v *vm.VM, ex *vm.ExceptionObject) vm.Value {
	return "VM handled " + ex.Description()
}

var scenarios = []scenario{
	{
		name: "propagate",
		host: "lets the capsule escape",
		run: func(machine *vm.VM) (vm.Value, error) {
			machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
				return scriptRaise("E0", "escapes the host")(v)
			})
			return machine.Run(func(v *vm.VM) vm.Value {
				return v.On("E0", nativeHandler, func(v *vm.VM) vm.Value {
					return v.CallNative("host")
				})
			})
		},
	},
	{
		name: "restore",
		host: "catches, then restores",
		run: func(machine *vm.VM) (vm.Value, error) {
			machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
				err := bridge.Protect(func() {
					scriptRaise("E1", "handed back")(v)
				}, bridge.Rethrow)
				if err != nil {
					return err
				}
				return "unreachable"
			})
			return machine.Run(func(v *vm.VM) vm.Value {
				return v.On("E1", nativeHandler, func(v *vm.VM) vm.Value {
					return v.CallNative("host")
				})
			})
		},
	},
	{
		name: "dispose",
		host: "catches and lets it go",
		run: func(machine *vm.VM) (vm.Value, error) {
			machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
				err := bridge.Try(func() { scriptRaise("E2", "disposed by host")(v) })
				return "host handled " + err.Error()
			})
			return machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })
		},
	},
	{
		name: "sequential",
		host: "restores E1, disposes E2",
		run: func(machine *vm.VM) (vm.Value, error) {
			machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
				className := args[0].(string)
				err := bridge.Protect(func() { scriptRaise(className, "")(v) }, func(c *bridge.Capsule) error {
					if className == "E1" {
						return c.Restore()
					}
					return nil
				})
				if err != nil {
					return err
				}
				return className + " disposed by host"
			})
			_, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host", "E1") })
			var ue *vm.UncaughtError
			if !errors.As(err, &ue) {
				return nil, fmt.Errorf("E1 should come back uncaught, got %v", err)
			}
			result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host", "E2") })
			return fmt.Sprintf("%s; %v", ue.ClassName+" uncaught", result), err
		},
	},
}

// runDemo runs every scenario on its own VM, sharing one journal and one set
// of metrics.
func runDemo(m *manifest.Manifest, reg prometheus.Registerer) ([]outcome, *audit.Journal, error) {
	journal := audit.NewJournal()
	metrics := bridge.NewMetrics(m.Metrics.Namespace, reg)

	var outcomes []outcome
	for _, s := range scenarios {
		machine := vm.NewVM()
		bridge.Install(machine,
			bridge.WithStrict(m.Bridge.Strict),
			bridge.WithMetrics(metrics),
			bridge.WithRecorder(journal),
		)

		start := journal.Len()
		result, err := s.run(machine)
		if err != nil {
			return nil, journal, fmt.Errorf("scenario %s: %w", s.name, err)
		}

		o := outcome{Scenario: s.name, Host: s.host, Result: fmt.Sprint(result)}
		for _, e := range journal.Events()[start:] {
			o.Events = append(o.Events, string(e.Action))
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, journal, nil
}

func newDemoCmd() *cobra.Command {
	var journalOut string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the custody scenarios and verify exactly-once disposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			outcomes, journal, err := runDemo(cfg, reg)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Scenario", "Host", "Custody events", "Result")
			for _, o := range outcomes {
				if err := table.Append([]string{o.Scenario, o.Host, strings.Join(o.Events, " -> "), o.Result}); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}

			if err := printMetrics(reg); err != nil {
				return err
			}

			if err := journal.Verify(); err != nil {
				return fmt.Errorf("custody violated: %w", err)
			}
			s := journal.Summarize()
			fmt.Printf("\n%d capsules: %d restored, %d cleared, 0 violations\n", s.Raised, s.Restored, s.Cleared)

			out := journalOut
			if out == "" {
				out = cfg.JournalPath()
			}
			if out != "" {
				if err := journal.WriteFile(out); err != nil {
					return err
				}
				fmt.Printf("Journal written to %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journalOut, "journal", "", "write the custody journal to this file (overrides journal.output)")
	return cmd
}

func printMetrics(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			value := metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
			if err := table.Append([]string{mf.GetName(), strings.Join(labels, ","), fmt.Sprintf("%g", value)}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}
