package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/invpt/hig-proto/directory"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/manager"
	"github.com/invpt/hig-proto/router"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	hdrStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// demoScheduler runs a deferred retry inline instead of waiting on the real
// clock, so a scenario's entire retry sequence settles within one rt.Run()
// and the CLI never has to sleep through backoff it has no reason to show.
type demoScheduler struct{}

func (demoScheduler) After(_ time.Duration, fn func()) { fn() }

// report is what a scenario hands back once its router has drained: a
// short narrative of what happened, for printing.
type report struct {
	lines []string
}

func (r *report) logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

type scenario struct {
	name  string
	short string
	run   func(r *report) error
}

var scenarios = []scenario{
	{"variable", "Write then read a single variable through a manager", scenarioVariable},
	{"definition", "A definition recomputes over a single variable input", scenarioDefinition},
	{"pipeline", "A chain of definitions propagates a write across two hops", scenarioPipeline},
	{"contention", "Wound-Wait resolves two transactions racing the same variable", scenarioContention},
	{"upgrade", "Two managers claim the same directory name concurrently", scenarioUpgrade},
	{"crossfire", "Two actors retire while each holds a message for the other", scenarioCrossfire},
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run one canned scenario, or every scenario if none is named",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toRun []scenario
			if len(args) == 0 {
				toRun = scenarios
			} else {
				s, ok := findScenario(args[0])
				if !ok {
					return fmt.Errorf("fabricctl: no such scenario %q (try %q)", args[0], scenarioNames())
				}
				toRun = []scenario{s}
			}

			failed := 0
			for _, s := range toRun {
				runID := uuid.NewString()
				fmt.Println(hdrStyle.Render(fmt.Sprintf("== %s ==", s.name)))
				fmt.Println(dimStyle.Render(fmt.Sprintf("%s  (run %s)", s.short, runID)))

				rep := &report{}
				err := s.run(rep)
				for _, line := range rep.lines {
					fmt.Println("  " + line)
				}
				if err != nil {
					failed++
					fmt.Println(failStyle.Render("FAIL: " + err.Error()))
				} else {
					fmt.Println(okStyle.Render("OK"))
				}
				fmt.Println()
			}
			if failed > 0 {
				return fmt.Errorf("fabricctl: %d of %d scenarios failed", failed, len(toRun))
			}
			return nil
		},
	}
	return cmd
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s, true
		}
	}
	return scenario{}, false
}

func scenarioNames() string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return strings.Join(names, ", ")
}

// spawnManager spawns a directory replica (seeded with the given peer
// directory addresses) and a Manager bound to it, sharing rt and using the
// inline demoScheduler. It returns the manager along with its directory's
// own address, so a second call can name it as a peer.
func spawnManager(rt *router.Router, self ident.Address, peerDirs []ident.Address) (*manager.Manager, ident.Address) {
	var dir *directory.Directory
	dirAddr := rt.Spawn(func(ctx *router.Context) router.Actor {
		dir = directory.New(ctx.Self(), peerDirs, nil)
		return dir
	})
	return manager.New(rt, self, dir, demoScheduler{}), dirAddr
}
