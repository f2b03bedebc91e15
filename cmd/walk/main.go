// main.go - walk CLI front-end
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	flag "github.com/opencoff/pflag"

	"github.com/opencoff/walk"
)

var Z = path.Base(os.Args[0])

// exitEngineError is spec.md §6's "engine internal error" exit code,
// distinct from any command exit status.
const exitEngineError = 125

func main() {
	var (
		help        bool
		forceFlag   string
		method      string
		newPaths    []string
		doctest     bool
		runTest     bool
		testABC     bool
		testProfile string
		timeLoadAll string
	)

	fs := flag.NewFlagSet(Z, flag.ExitOnError)
	fs.BoolVarP(&help, "help", "h", false, "Show help and exit [False]")
	fs.StringVarP(&forceFlag, "force", "f", "", "Force `0` (never run) or `1` (always run)")
	fs.StringVarP(&method, "method", "m", "", "Tracer backend: `preload` or `trace`")
	fs.StringArrayVarP(&newPaths, "new", "", nil, "Treat `PATH` as freshly modified; may repeat")
	fs.BoolVarP(&doctest, "doctest", "", false, "Run embedded self-tests [False]")
	fs.BoolVarP(&runTest, "test", "", false, "Run broader self-tests [False]")
	fs.BoolVarP(&testABC, "test-abc", "", false, "Run the a/b/c scenario self-test [False]")
	fs.StringVarP(&testProfile, "test-profile", "", "", "Measure time to parse a single `WALKFILE`")
	fs.StringVarP(&timeLoadAll, "time-load-all", "", "", "Recursively time parsing of walk files under `ROOT`")
	fs.SetOutput(os.Stdout)

	if err := fs.Parse(os.Args[1:]); err != nil {
		die("%s", err)
	}
	if help {
		usage(fs)
	}

	switch {
	case doctest:
		runSelfTests(docTestScenarios())
		return
	case runTest:
		runSelfTests(allScenarios())
		return
	case testABC:
		runSelfTests([]scenario{scenarioBasicSkip, scenarioEditTriggersRebuild})
		return
	case testProfile != "":
		profileOne(testProfile)
		return
	case timeLoadAll != "":
		profileTree(timeLoadAll)
		return
	}

	args := fs.Args()
	if len(args) < 2 {
		die("Usage: %s [options] <walk-path> <command...>", Z)
	}
	walkPath, command := args[0], strings.Join(args[1:], " ")

	opts, err := buildOptions(forceFlag, method, newPaths)
	if err != nil {
		die("%s", err)
	}

	status, err := walk.System(context.Background(), command, walkPath, opts...)
	if err != nil {
		var cerr *walk.CommandError
		if errors.As(err, &cerr) {
			os.Exit(status)
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", Z, err)
		os.Exit(exitEngineError)
	}
	os.Exit(status)
}

func buildOptions(forceFlag, method string, newPaths []string) ([]walk.Option, error) {
	var opts []walk.Option

	switch forceFlag {
	case "":
	case "0":
		opts = append(opts, walk.WithForce(walk.ForceNever))
	case "1":
		opts = append(opts, walk.WithForce(walk.ForceAlways))
	default:
		return nil, fmt.Errorf("invalid -f value %q (want 0 or 1)", forceFlag)
	}

	if method != "" {
		m, err := walk.ParseMethod(method)
		if err != nil {
			return nil, err
		}
		opts = append(opts, walk.WithMethodOverride(m))
	}

	for _, p := range newPaths {
		canon, err := walk.CanonicalPath(p)
		if err != nil {
			return nil, fmt.Errorf("--new %s: %w", p, err)
		}
		opts = append(opts, walk.WithTouch(canon))
	}

	return opts, nil
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, Z+": "+format+"\n", args...)
	os.Exit(exitEngineError)
}

func usage(fs *flag.FlagSet) {
	fmt.Printf(usageStr, Z, Z)
	fs.PrintDefaults()
	os.Exit(0)
}

var usageStr = `%s - command-memoizing build runner.

Usage: %s [options] <walk-path> <command...>

Options:
`
