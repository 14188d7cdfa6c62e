package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/NeuroPrep/internal/events"
	"github.com/himanishpuri/NeuroPrep/pkg/logger"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/himanishpuri/NeuroPrep/pkg/neuroprep"
	"github.com/himanishpuri/NeuroPrep/pkg/utils"
)

// Global flags
var (
	outputDir string
	workers   int
	seed      uint64
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&outputDir, "out", getEnvOrDefault("NEUROPREP_OUTPUT_DIR", "."), "Directory that receives the epochs/ and epochs/ICA/ outputs")
	flag.IntVar(&workers, "workers", getEnvIntOrDefault("NEUROPREP_WORKERS", 6), "Worker count for filtering, ICA scoring and rejection")
	flag.Uint64Var(&seed, "seed", 0, "ICA random seed (0 selects the built-in seed)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logger.Warnf("Ignoring %s=%q: not an integer", key, value)
	}
	return defaultValue
}

// createService creates a new NeuroPrep service with configured options
func createService() (neuroprep.Service, error) {
	return neuroprep.NewService(
		neuroprep.WithOutputDir(outputDir),
		neuroprep.WithSeed(seed),
	)
}

func main() {
	// Initialize logger
	log := logger.GetLogger()

	flag.Usage = printUsage
	flag.Parse()

	// Print banner
	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	// Worker count is process-wide and fixed before any work starts
	neuroprep.SetWorkers(workers)

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Infof("Executing command: %s (workers=%d)", command, neuroprep.Workers())

	switch command {
	case "preprocess":
		handlePreprocess(args)
	case "evoked":
		handleEvoked(args)
	case "plot":
		handlePlot(args)
	case "list":
		handleList(args)
	case "ica":
		handleICA(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	runExitHooks()
}

func printBanner() {
	banner := `
 _   _                      ____
| \ | | ___ _   _ _ __ ___ |  _ \ _ __ ___ _ __
|  \| |/ _ \ | | | '__/ _ \| |_) | '__/ _ \ '_ \
| |\  |  __/ |_| | | | (_) |  __/| | |  __/ |_) |
|_| \_|\___|\__,_|_|  \___/|_|   |_|  \___| .__/
                                          |_|
          EEG Preprocessing CLI Tool
`
	fmt.Println(banner)
}

// splitArgs separates leading positional arguments from the flags that
// follow them, so "preprocess raw.edf --subject 3" works.
func splitArgs(args []string) (positional, flagArgs []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// exitHooks run in reverse order when a command returns or fails.
var exitHooks []func()

func onExit(f func()) {
	exitHooks = append(exitHooks, f)
}

func runExitHooks() {
	for i := len(exitHooks) - 1; i >= 0; i-- {
		exitHooks[i]()
	}
	exitHooks = nil
}

func fail(what string, err error) {
	fmt.Printf("\n❌ %s: %v\n", what, err)
	logger.Errorf("%s: %v", what, err)
	runExitHooks()
	os.Exit(1)
}

func mustService() neuroprep.Service {
	svc, err := createService()
	if err != nil {
		fail("Failed to create service", err)
	}
	onExit(func() { svc.Close() })
	return svc
}

// preprocessArgsOK reports whether the required preprocess inputs are set.
// Subject 0 is valid and names sub0-ica / sub00-epo.
func preprocessArgsOK(positional []string, eventPath, eventID string, subject int) bool {
	return len(positional) == 1 && eventPath != "" && eventID != "" && subject >= 0
}

func handlePreprocess(args []string) {
	log := logger.GetLogger()

	positional, flagArgs := splitArgs(args)
	defaults := neuroprep.DefaultParams()

	cmd := flag.NewFlagSet("preprocess", flag.ExitOnError)
	montage := cmd.String("montage", "", "Electrode positions (.loc, .tsv, .csv, .xyz)")
	eventPath := cmd.String("events", "", "Event file: one \"sample [previous] code\" per line (required)")
	eventID := cmd.String("event-id", "", "Event dictionary as code=label pairs, e.g. \"31=con/MC/s,32=inc/MC/s\" (required)")
	subject := cmd.Int("subject", -1, "Subject number used in output file names (required)")
	remove := cmd.String("remove", "", "Comma-separated channels to mark bad")
	eog := cmd.String("eog", "", "Comma-separated channels to retype as EOG")
	wavChannels := cmd.String("wav-channels", "", "Comma-separated channel names for WAV recordings")
	frontal := cmd.String("frontal", "FP1,FP2,F8", "Comma-separated channels used to find eye components")
	tmin := cmd.Float64("tmin", defaults.TMin, "Epoch start (s)")
	tmax := cmd.Float64("tmax", defaults.TMax, "Epoch end (s)")
	lfreq := cmd.Float64("lfreq", defaults.LFreq, "High-pass edge (Hz)")
	hfreq := cmd.Float64("hfreq", defaults.HFreq, "Low-pass edge (Hz)")
	thresh := cmd.Float64("ica-z", defaults.ICAZThresh, "z threshold for EOG and muscle components")
	noExport := cmd.Bool("no-export", false, "Do not save the cleaned epochs")
	timeout := cmd.Duration("timeout", 30*time.Minute, "Give up after this long")
	cmd.Parse(flagArgs)

	if !preprocessArgsOK(positional, *eventPath, *eventID, *subject) {
		fmt.Println("Usage: neuroprep preprocess <recording.edf|.wav> --events <file> --event-id <code=label,...> --subject <n> [options]")
		os.Exit(1)
	}
	for _, path := range []string{positional[0], *eventPath, *montage} {
		if path != "" && !utils.FileExists(path) {
			fail("Missing input", fmt.Errorf("%s: %w", path, os.ErrNotExist))
		}
	}
	dict, err := events.ParseDict(splitList(*eventID))
	if err != nil {
		fail("Invalid --event-id", err)
	}

	params := defaults
	params.RawPath = positional[0]
	params.MontagePath = *montage
	params.EventPath = *eventPath
	params.EventDict = dict
	params.Subject = *subject
	params.RemoveChannels = splitList(*remove)
	params.EOGChannels = splitList(*eog)
	params.WAVChannels = splitList(*wavChannels)
	params.TMin, params.TMax = *tmin, *tmax
	params.LFreq, params.HFreq = *lfreq, *hfreq
	params.ICAZThresh = *thresh
	params.Export = !*noExport

	fmt.Println("\n🔧 Initializing service...")
	svc, err := neuroprep.NewService(
		neuroprep.WithOutputDir(outputDir),
		neuroprep.WithSeed(seed),
		neuroprep.WithFrontalChannels(splitList(*frontal)...),
	)
	if err != nil {
		fail("Failed to create service", err)
	}
	onExit(func() { svc.Close() })

	fmt.Printf("🧠 Preprocessing subject %d: %s\n", params.Subject, params.RawPath)
	fmt.Println("   Filtering, ICA and AutoReject may take a few minutes")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	onExit(stop)
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	onExit(cancel)

	res, err := svc.Preprocess(ctx, params)
	if err != nil {
		fail("Preprocessing failed", err)
	}

	fmt.Println("\n✅ Preprocessing complete!")
	fmt.Printf("   Channels:   %d (%d bad: %s)\n", res.NChannels, len(res.Bads), strings.Join(res.Bads, ", "))
	fmt.Printf("   ICA:        %d components, converged=%t\n", res.Components, res.Converged)
	fmt.Printf("   Excluded:   %v (eog %v, muscle %v)\n", res.Exclude, res.ExcludeEOG, res.ExcludeMuscle)
	fmt.Printf("   Events:     %d read, %d unmapped, %d out of bounds\n", res.EventsRead, res.EventsUnmapped, res.EventsOutOfBounds)
	fmt.Printf("   Epochs:     %d kept of %d (%d cells interpolated)\n", res.EpochsAfter, res.EpochsBefore, res.RejectLog.NInterpolated())
	fmt.Printf("   ICA file:   %s\n", res.ICAPath)
	if res.EpochsPath != "" {
		fmt.Printf("   Epochs file: %s\n", res.EpochsPath)
	}
	fmt.Printf("   Took:       %s\n", res.Duration.Round(time.Second))
	log.Infof("Preprocessed subject %d: %d/%d epochs kept", res.Subject, res.EpochsAfter, res.EpochsBefore)
}

// evokedFlags are shared by the evoked and plot commands.
type evokedFlags struct {
	cond1, cond2 *string
}

func addEvokedFlags(cmd *flag.FlagSet) evokedFlags {
	return evokedFlags{
		cond1: cmd.String("cond1", "", "First condition selector, e.g. \"con\" (required)"),
		cond2: cmd.String("cond2", "", "Second condition selector, e.g. \"inc\" (required)"),
	}
}

func loadEvokes(svc neuroprep.Service, files []string, f evokedFlags) *neuroprep.Evokes {
	fmt.Printf("📂 Loading %d epochs file(s)...\n", len(files))
	ev, err := svc.GenerateEvokes(files, *f.cond1, *f.cond2)
	if err != nil {
		fail("Failed to generate evoked responses", err)
	}
	return ev
}

func handleEvoked(args []string) {
	log := logger.GetLogger()

	files, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet("evoked", flag.ExitOnError)
	ef := addEvokedFlags(cmd)
	channel := cmd.String("channel", "Cz", "Channel reported in the summary")
	cmd.Parse(flagArgs)

	if len(files) == 0 || *ef.cond1 == "" || *ef.cond2 == "" {
		fmt.Println("Usage: neuroprep evoked <sub01-epo.sqlite3> [more files...] --cond1 <label> --cond2 <label> [--channel Cz]")
		os.Exit(1)
	}

	svc := mustService()

	ev := loadEvokes(svc, files, ef)
	diffs, err := neuroprep.GenerateDiffEvokes(ev)
	if err != nil {
		fail("Failed to build difference waves", err)
	}
	means, err := neuroprep.GenerateMeanEvokes(ev)
	if err != nil {
		fail("Failed to build mean waves", err)
	}

	fmt.Printf("\n✅ Evoked responses for %s vs. %s at %s:\n\n", ev.Conditions[0], ev.Conditions[1], *channel)
	for i, src := range ev.Sources {
		peak, at, ok := peakOf(diffs[i], *channel)
		if !ok {
			fail("Channel lookup failed", fmt.Errorf("%w: %s", neuroprep.ErrChannelNotFound, *channel))
		}
		fmt.Printf("%d. %s\n", i+1, filepath.Base(src))
		fmt.Printf("   nave: %s=%g %s=%g mean=%g\n", ev.Conditions[0], ev.Cond1[i].Nave, ev.Conditions[1], ev.Cond2[i].Nave, means[i].Nave)
		fmt.Printf("   largest difference: %.2f µV at %.3f s\n", peak*1e6, at)
		fmt.Println()
	}
	log.Infof("Summarized %d subjects", ev.Len())
}

// peakOf returns the value with the largest magnitude on channel and its time.
func peakOf(ev *models.Evoked, channel string) (float64, float64, bool) {
	values, ok := ev.Channel(channel)
	if !ok || len(values) == 0 {
		return 0, 0, false
	}
	times := ev.Times()
	best := 0
	for i, v := range values {
		if abs(v) > abs(values[best]) {
			best = i
		}
	}
	return values[best], times[best], true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func handlePlot(args []string) {
	log := logger.GetLogger()

	files, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet("plot", flag.ExitOnError)
	ef := addEvokedFlags(cmd)
	channel := cmd.String("channel", "Cz", "Channel to plot")
	vlines := cmd.String("vlines", "", "Comma-separated times (s) to mark; empty marks stimulus onset")
	figDir := cmd.String("fig-dir", "figures", "Directory for the PNG files")
	cmd.Parse(flagArgs)

	if len(files) == 0 || *ef.cond1 == "" || *ef.cond2 == "" {
		fmt.Println("Usage: neuroprep plot <sub01-epo.sqlite3> [more files...] --cond1 <label> --cond2 <label> [--channel Cz] [--vlines 0,0.3]")
		os.Exit(1)
	}
	var marks []float64
	for _, s := range splitList(*vlines) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			fail("Invalid --vlines", err)
		}
		marks = append(marks, v)
	}

	svc := mustService()

	ev := loadEvokes(svc, files, ef)
	diffs, err := neuroprep.GenerateDiffEvokes(ev)
	if err != nil {
		fail("Failed to build difference waves", err)
	}

	name := func(kind string) string {
		r := strings.NewReplacer("/", "-", " ", "_")
		return filepath.Join(*figDir, fmt.Sprintf("%s_%s_vs_%s_%s.png", *channel, r.Replace(ev.Conditions[0]), r.Replace(ev.Conditions[1]), kind))
	}
	comparePath, diffPath := name("compare"), name("diff")

	fmt.Println("📈 Drawing figures...")
	if _, err := neuroprep.CompareEvokeWave(ev, *channel, marks, comparePath); err != nil {
		fail("Failed to plot comparison", err)
	}
	if _, err := neuroprep.ShowDifferenceWave(diffs, *channel, diffPath); err != nil {
		fail("Failed to plot difference wave", err)
	}

	fmt.Println("\n✅ Figures written:")
	fmt.Printf("   %s\n", comparePath)
	fmt.Printf("   %s\n", diffPath)
	log.Infof("Plotted %s for %d subjects", *channel, ev.Len())
}

func handleList(args []string) {
	log := logger.GetLogger()

	dir := filepath.Join(outputDir, "epochs")
	if len(args) > 0 {
		dir = args[0]
	}

	svc := mustService()

	list, err := svc.ListEpochs(dir)
	if err != nil {
		fail("Failed to list epochs", err)
	}

	if len(list) == 0 {
		fmt.Printf("\n📭 No epochs files in %s\n", dir)
		log.Info("No epochs files found")
		return
	}

	fmt.Printf("\n📚 Found %d epochs file(s) in %s:\n\n", len(list), dir)
	for i, s := range list {
		fmt.Printf("%d. sub%02d  %s\n", i+1, s.Subject, filepath.Base(s.Path))
		fmt.Printf("   Epochs: %s x %d channels x %d samples at %g Hz (tmin %g s)\n",
			humanize.Comma(int64(s.NEpochs)), s.NChannels, s.NTimes, s.SFreq, s.TMin)
		fmt.Printf("   Conditions: %s\n", strings.Join(s.Labels, ", "))
		if s.HasLog {
			fmt.Printf("   Rejected: %d epochs\n", s.NDropped)
		}
		fmt.Println()
	}
	log.Infof("Listed %d epochs files", len(list))
}

func handleICA(args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: neuroprep ica <subN-ica.sqlite3>")
		os.Exit(1)
	}

	svc := mustService()

	m, err := svc.LoadICA(args[0])
	if err != nil {
		fail("Failed to load ICA model", err)
	}

	fmt.Printf("\n🧩 ICA model %s\n", args[0])
	fmt.Printf("   Method:     %s, %d components from %d channels\n", m.Method, m.NComponents, m.NChannels())
	fmt.Printf("   Variance:   %.2f%%\n", 100*m.ExplainedVariance)
	fmt.Printf("   Iterations: %d (converged=%t)\n", m.NIter, m.Converged)
	fmt.Printf("   Channels:   %s\n", strings.Join(m.Channels, ", "))
	fmt.Printf("   Excluded:   %v\n", m.Exclude)

	labels := make([]string, 0, len(m.Labels))
	for l := range m.Labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Printf("   %-10s  %v\n", l+":", m.Labels[l])
		if scores := m.Scores[l]; len(scores) > 0 {
			parts := make([]string, len(scores))
			for k, s := range scores {
				parts[k] = strconv.FormatFloat(s, 'f', 2, 64)
			}
			fmt.Printf("   %-10s  [%s]\n", "scores:", strings.Join(parts, " "))
		}
	}
	log.Infof("Inspected ICA model with %d components", m.NComponents)
}

func printUsage() {
	fmt.Println("NeuroPrep - EEG Preprocessing CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --out <dir>        Output directory (env: NEUROPREP_OUTPUT_DIR, default: .)")
	fmt.Println("  --workers <n>      Worker count (env: NEUROPREP_WORKERS, default: 6)")
	fmt.Println("  --seed <n>         ICA random seed (default: built-in)")
	fmt.Println("\nUsage:")
	fmt.Println("  neuroprep [global-options] preprocess <recording> --events <file> --event-id <code=label,...> --subject <n> [options]")
	fmt.Println("  neuroprep [global-options] evoked <epochs files...> --cond1 <label> --cond2 <label> [--channel Cz]")
	fmt.Println("  neuroprep [global-options] plot <epochs files...> --cond1 <label> --cond2 <label> [--channel Cz] [--fig-dir figures]")
	fmt.Println("  neuroprep [global-options] list [epochs dir]")
	fmt.Println("  neuroprep [global-options] ica <ica file>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Preprocess subject 3")
	fmt.Println("  neuroprep --out results preprocess sub3.edf --montage chans.loc --events sub3.txt \\")
	fmt.Println("      --event-id \"31=con/MC/s,32=inc/MC/s\" --subject 3 --remove M1,M2 --eog HEOG,VEOG")
	fmt.Println()
	fmt.Println("  # Compare conditions at Cz across subjects")
	fmt.Println("  neuroprep plot results/epochs/sub0*-epo.sqlite3 --cond1 con --cond2 inc --channel Cz")
	fmt.Println()
	fmt.Println("  # Inspect the saved ICA model")
	fmt.Println("  neuroprep ica results/epochs/ICA/sub3-ica.sqlite3")
}
