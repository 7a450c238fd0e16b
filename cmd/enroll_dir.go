package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/identify"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll a directory tree, one person per sub-directory",
	Long: `Enroll every image below <dir>. Each immediate sub-directory is one
person and its name is used as the display name:

  people/
    Alice Novak/   a1.jpg a2.jpg
    Bob/           b1.png

Images without a usable face are skipped and counted as failures. People are
enrolled in parallel; the images of one person are enrolled in order.

Examples:
  face-gallery enroll-dir ./people
  face-gallery enroll-dir ./people --concurrency 8 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollDirCmd)

	enrollDirCmd.Flags().Int("concurrency", constants.EnrollWorkerPoolSize, "Number of people enrolled in parallel")
	enrollDirCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// personImages is one sub-directory of an enroll-dir tree.
type personImages struct {
	Name   string
	Images []string
}

// collectPeople lists the sub-directories of dir that hold at least one
// image, sorted by name.
func collectPeople(dir string) ([]personImages, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var people []personImages
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		p := personImages{Name: e.Name()}
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			p.Images = append(p.Images, filepath.Join(dir, e.Name(), f.Name()))
		}
		if len(p.Images) > 0 {
			sort.Strings(p.Images)
			people = append(people, p)
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].Name < people[j].Name })
	return people, nil
}

// EnrollDirResult summarizes a directory enrollment.
type EnrollDirResult struct {
	Success       bool              `json:"success"`
	People        int               `json:"people"`
	Enrolled      int               `json:"enrolled"`
	Failed        int               `json:"failed"`
	Failures      map[string]string `json:"failures,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	DurationHuman string            `json:"duration_human,omitempty"`
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")
	startTime := time.Now()

	people, err := collectPeople(args[0])
	if err != nil {
		return err
	}
	total := 0
	for _, p := range people {
		total += len(p.Images)
	}
	if total == 0 {
		if jsonOutput {
			return outputJSON(EnrollDirResult{Success: true})
		}
		fmt.Println("No images found.")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !jsonOutput {
		fmt.Printf("Found %d images of %d people\n\n", total, len(people))
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var enrolled, failed int64
	var failuresMu sync.Mutex
	failures := map[string]string{}

	sem := make(chan struct{}, max(concurrency, 1))
	var wg sync.WaitGroup
	for _, p := range people {
		wg.Add(1)
		go func(p personImages) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			enrollPerson(ctx, a.service, p, func(path string, err error) {
				if err != nil {
					atomic.AddInt64(&failed, 1)
					failuresMu.Lock()
					failures[path] = err.Error()
					failuresMu.Unlock()
				} else {
					atomic.AddInt64(&enrolled, 1)
				}
				if bar != nil {
					bar.Add(1)
				}
			})
		}(p)
	}
	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EnrollDirResult{
		Success:       true,
		People:        len(people),
		Enrolled:      int(enrolled),
		Failed:        int(failed),
		Failures:      failures,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nEnrollment complete!")
	fmt.Printf("  People:   %d\n", result.People)
	fmt.Printf("  Enrolled: %d\n", result.Enrolled)
	if result.Failed > 0 {
		fmt.Printf("  Failed:   %d\n", result.Failed)
		paths := make([]string, 0, len(failures))
		for path := range failures {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			fmt.Printf("    %s: %s\n", path, failures[path])
		}
	}
	fmt.Printf("  Duration: %s\n", result.DurationHuman)
	return nil
}

// enrollPerson enrolls the images of one person in order. The first image
// that enrolls creates the person; later images are added to it.
func enrollPerson(ctx context.Context, svc *identify.Service, p personImages, done func(path string, err error)) {
	personID := ""
	for _, path := range p.Images {
		res, err := enrollFile(ctx, svc, path, p.Name, personID)
		if err == nil && personID == "" {
			personID = res.PersonID
		}
		done(path, err)
	}
}
