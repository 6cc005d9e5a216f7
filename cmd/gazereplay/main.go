// Command gazereplay runs calibration and dwell detection over a recorded
// capture and prints the fitted transform, its accuracy and the dwell events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"gaze-tracer/internal/config"
	"gaze-tracer/internal/dwell"

	"go.uber.org/zap"
)

func main() {
	capturePath := flag.String("c", "", "Path to capture JSON")
	root := flag.String("root", ".", "Project root holding config/config.yaml")
	rbf := flag.Bool("rbf", false, "Allow RBF refinement")
	verbose := flag.Bool("v", false, "Log pipeline details")
	flag.Parse()

	if *capturePath == "" {
		fmt.Println("Usage: gazereplay -c <capture.json> [-root <dir>] [-rbf] [-v]")
		os.Exit(1)
	}

	cfg, err := config.Load(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	sessCfg := cfg.SessionConfig()
	sessCfg.EnableRBF = sessCfg.EnableRBF || *rbf

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	capture, err := loadCapture(*capturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Capture: %s ===\n", *capturePath)
	fmt.Printf("Viewport: %.0fx%.0f, %d clicks, %d stream samples, %d elements\n",
		capture.Viewport.W, capture.Viewport.H, len(capture.Clicks), len(capture.Stream), len(capture.Layout.Elements))

	rep, err := replay(context.Background(), capture, sessCfg, cfg.DwellPolicy(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== Calibration ===\n")
	res := rep.Result
	fmt.Printf("Samples: %d, inliers: %d\n", res.Samples, res.Inliers)
	fmt.Printf("Quadratic: %v, RBF: %v\n", res.Quadratic, res.RBF)
	fmt.Printf("Accuracy (median): %.2f px, affine stage mean: %.2f px\n", res.Accuracy, res.AffineMeanPx)
	fmt.Printf("Error mean/median/p95/max: %.2f / %.2f / %.2f / %.2f px\n",
		res.Errors.Mean, res.Errors.Median, res.Errors.P95, res.Errors.Max)
	for _, r := range rep.Residuals {
		fmt.Printf("  point %2d at (%6.1f, %6.1f): %d clicks, %.2f px\n", r.Index, r.Target.X, r.Target.Y, r.Clicks, r.MeanPx)
	}
	chain, _ := json.MarshalIndent(rep.Chain, "", "  ")
	fmt.Printf("Chain:\n%s\n", chain)

	fmt.Printf("\n=== Stream ===\n")
	fmt.Printf("Accepted: %d\n", rep.Accepted)
	reasons := make([]string, 0, len(rep.Dropped))
	for r := range rep.Dropped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("Dropped %s: %d\n", r, rep.Dropped[r])
	}

	fmt.Printf("\n=== Dwell events (%d, %d cleared) ===\n", len(rep.Dwells), rep.Cleared)
	for _, ev := range rep.Dwells {
		printEvent(ev)
	}
}

func printEvent(ev dwell.Event) {
	text := ev.ElementText
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	fmt.Printf("%s  %-8s %-30s %5dms  %q", ev.At.UTC().Format("15:04:05.000"), ev.ElementType, ev.ElementID, ev.DwellMs, text)
	if ev.Frame != "" {
		fmt.Printf("  frame=%s", ev.Frame)
	}
	fmt.Println()
}
