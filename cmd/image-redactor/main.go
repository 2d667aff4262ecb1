package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	imageredactor "github.com/menta2k/image-redactor"
	"github.com/menta2k/image-redactor/internal/config"
	"github.com/menta2k/image-redactor/internal/utils"
	"github.com/menta2k/image-redactor/pkg/batch"
	"github.com/menta2k/image-redactor/pkg/client"
	"github.com/menta2k/image-redactor/pkg/compositor"
	"github.com/menta2k/image-redactor/pkg/detection"
	"github.com/menta2k/image-redactor/pkg/history"
	"github.com/menta2k/image-redactor/pkg/llamacpp"
	"github.com/menta2k/image-redactor/pkg/ollama"
	"github.com/menta2k/image-redactor/pkg/processing"
	"github.com/menta2k/image-redactor/pkg/sink"
	"github.com/menta2k/image-redactor/pkg/tools"
	"github.com/menta2k/image-redactor/pkg/types"
	"github.com/menta2k/image-redactor/pkg/vision"
)

func main() {
	var in, configPath string
	var check, debug, saveConfig, version bool

	cfg := config.Default()

	flag.StringVar(&in, "in", "", "input image path, URL or directory (jpg/png/webp)")
	flag.StringVar(&configPath, "config", config.GetConfigPath(), "config file (JSON)")
	flag.BoolVar(&check, "check", false, "check the model is available and can see images, then exit")
	flag.BoolVar(&debug, "debug", false, "write region overlay images next to the output")
	flag.BoolVar(&saveConfig, "save-config", false, "write the effective configuration to -config and exit")
	flag.BoolVar(&version, "version", false, "print version and exit")

	// Flags below override the config file
	backend := flag.String("backend", cfg.Detection.Backend, "detector backend: ollama, llamacpp or saliency")
	url := flag.String("url", "", "model server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	model := flag.String("model", cfg.Detection.Model, "vision model name")
	conf := flag.Float64("conf", cfg.Detection.Confidence, "minimum detection confidence (0-1)")
	classes := flag.String("classes", strings.Join(cfg.Detection.TargetClasses, ","), "comma separated classes to redact")
	sendFmt := flag.String("sendfmt", cfg.Detection.SendFormat, "format sent to the model: jpg|png")
	sendSize := flag.Int("sendsize", cfg.Detection.SendSize, "max long side sent to the model (px), 0=original")
	sendQ := flag.Int("sendq", cfg.Detection.SendQuality, "JPEG quality for the image sent to the model (1-100)")
	style := flag.String("style", cfg.Editor.Style, "redaction style: mosaic|blur|black|white")
	block := flag.Int("block", cfg.Editor.BlockSize, "mosaic block size (px)")
	outDir := flag.String("out", cfg.Output.Dir, "output directory")
	format := flag.String("format", cfg.Output.Format, "output format: png|webp|jpg")
	quality := flag.Int("quality", cfg.Output.Quality, "JPEG/WebP output quality (1-100)")
	meta := flag.String("metadata", cfg.Output.Metadata, "source metadata: keep|wash")
	suffix := flag.String("suffix", cfg.Output.Suffix, "suffix appended to output filenames")

	flag.Parse()

	if version {
		fmt.Println(imageredactor.GetVersion())
		return
	}

	if utils.FileExists(configPath) {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Explicit flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Detection.Backend = *backend
		case "url":
			cfg.Detection.URL = *url
		case "model":
			cfg.Detection.Model = *model
		case "conf":
			cfg.Detection.Confidence = *conf
		case "classes":
			cfg.Detection.TargetClasses = splitList(*classes)
		case "sendfmt":
			cfg.Detection.SendFormat = *sendFmt
		case "sendsize":
			cfg.Detection.SendSize = *sendSize
		case "sendq":
			cfg.Detection.SendQuality = *sendQ
		case "style":
			cfg.Editor.Style = *style
		case "block":
			cfg.Editor.BlockSize = *block
		case "out":
			cfg.Output.Dir = *outDir
		case "format":
			cfg.Output.Format = *format
		case "quality":
			cfg.Output.Quality = *quality
		case "metadata":
			cfg.Output.Metadata = *meta
		case "suffix":
			cfg.Output.Suffix = *suffix
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if saveConfig {
		if err := cfg.SaveToFile(configPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", configPath)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in image.jpg|URL|dir [-backend ollama|llamacpp|saliency] [-model name] [-url server_url] [-out outdir] [-format png|webp|jpg] [-metadata keep|wash] [-style mosaic|blur|black|white]", filepath.Base(os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	processor := processing.NewProcessor()

	sources, err := collectSources(in)
	if err != nil {
		log.Fatal(err)
	}
	if len(sources) == 0 {
		log.Fatalf("No images found in %s", in)
	}

	var detector batch.RegionDetector
	switch cfg.Detection.Backend {
	case "saliency":
		detector = vision.NewWithConfig(vision.DetectionConfig{
			EdgeThreshold:   cfg.Vision.EdgeThreshold,
			ContrastWeight:  cfg.Vision.ContrastWeight,
			ColorWeight:     cfg.Vision.ColorWeight,
			MinSubjectRatio: cfg.Vision.MinSubjectRatio,
			MaxRegions:      cfg.Vision.MaxRegions,
		})
	default:
		visionClient, err := newVisionClient(cfg.Detection.Backend, cfg.Detection.URL)
		if err != nil {
			log.Fatal(err)
		}
		modelDetector := detection.NewDetectorWithConfig(visionClient, detection.Config{
			Classes:     cfg.Detection.TargetClasses,
			SendFormat:  cfg.Detection.SendFormat,
			SendSize:    cfg.Detection.SendSize,
			SendQuality: cfg.Detection.SendQuality,
		})
		if check {
			runModelCheck(ctx, modelDetector, processor, cfg.Detection.Model, sources[0])
			return
		}
		detector = modelDetector
	}
	if check {
		log.Printf("Backend %s needs no model server; nothing to check", cfg.Detection.Backend)
		return
	}

	parsedStyle, _ := types.ParseStyle(cfg.Editor.Style)
	directive, _ := types.ParseMetadataDirective(cfg.Output.Metadata)
	penColor, err := parseHexColor(cfg.Editor.PenColor)
	if err != nil {
		log.Fatal(err)
	}

	fileSink := sink.NewFileSink(processor, nil)

	opts := imageredactor.DefaultOptions()
	opts.Loader = processor
	opts.Detector = detector
	opts.Sink = fileSink
	opts.Suffix = cfg.Output.Suffix
	opts.History = history.Config{Capacity: cfg.Editor.HistoryCapacity, Lossless: cfg.Editor.LosslessHistory}
	opts.Tools = tools.Settings{
		Radius:     cfg.Editor.BrushRadius,
		Style:      parsedStyle,
		BlockSize:  cfg.Editor.BlockSize,
		PenColor:   penColor,
		PenOpacity: cfg.Editor.PenOpacity,
	}
	opts.Batch = batch.Options{
		Model:      cfg.Detection.Model,
		Threshold:  cfg.Detection.Confidence,
		Targets:    cfg.Detection.TargetClasses,
		Compositor: compositor.Options{Style: parsedStyle, BlockSize: cfg.Editor.BlockSize},
		OutputDir:  cfg.Output.Dir,
		Format:     cfg.Output.Format,
		Quality:    cfg.Output.Quality,
		Metadata:   directive,
	}
	opts.OnProgress = func(p batch.Progress) {
		if p.Err == nil {
			log.Printf("[%s %d/%d] %s", p.Op, p.Index+1, p.Total, p.ItemID)
		}
	}

	session := imageredactor.New(opts)
	session.Enqueue(sources...)
	log.Printf("Queued %d images, backend=%s model=%q style=%s", len(sources), cfg.Detection.Backend, cfg.Detection.Model, parsedStyle)

	report, err := session.DetectAll(ctx)
	logReport(report)
	if err != nil {
		log.Fatalf("Detection interrupted: %v", err)
	}

	for _, it := range session.Items() {
		for _, r := range it.Regions {
			log.Printf("%s: %s conf=%.2f box=%d,%d-%d,%d", it.ID, r.Label, r.Confidence, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
		}
	}

	if debug {
		writeOverlays(ctx, session, processor, fileSink, cfg.Output.Dir)
	}

	report, err = session.SaveAll(ctx)
	logReport(report)
	for _, it := range session.Items() {
		path, ok := report.Paths[it.ID]
		if !ok {
			continue
		}
		if info, statErr := os.Stat(path); statErr == nil {
			log.Printf("wrote %s (%s)", path, utils.FormatFileSize(info.Size()))
		}
	}
	if err != nil {
		log.Fatalf("Save interrupted: %v", err)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func newVisionClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case "ollama":
		if url == "" {
			url = "http://localhost:11434"
		}
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		if url == "" {
			url = "http://localhost:8080"
		}
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown backend: %s (use 'ollama', 'llamacpp' or 'saliency')", backend)
}

// collectSources expands a directory into its image files
func collectSources(in string) ([]string, error) {
	if utils.DirExists(in) {
		return utils.ListImageFiles(in)
	}
	return []string{in}, nil
}

func runModelCheck(ctx context.Context, d *detection.Detector, p *processing.Processor, model, source string) {
	if err := d.Validate(ctx, model); err != nil {
		log.Fatalf("Model check failed: %v", err)
	}
	log.Printf("Model %s is available", model)

	img, err := p.LoadImageSmart(ctx, source)
	if err != nil {
		log.Fatal(err)
	}
	reply, err := d.TestVision(ctx, model, img)
	if err != nil {
		log.Fatalf("Vision check failed: %v", err)
	}
	log.Printf("Model reply: %s", reply)
}

func writeOverlays(ctx context.Context, s *imageredactor.Session, p *processing.Processor, fs *sink.FileSink, outDir string) {
	for _, it := range s.Items() {
		if len(it.Regions) == 0 {
			continue
		}
		orig, err := it.Original(ctx, p)
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(it.OutputFilename, filepath.Ext(it.OutputFilename)) + "_regions.png"
		path, err := fs.Save(ctx, sink.Request{
			ItemID:   it.ID,
			Image:    p.RegionOverlay(orig, it.Regions),
			Filename: name,
			Dir:      outDir,
			Metadata: types.MetadataWash,
		})
		if err != nil {
			log.Printf("debug overlay save failed: %v", err)
			continue
		}
		log.Printf("wrote %s", path)
	}
}

func logReport(r batch.Report) {
	log.Printf("%s: %d attempted, %d succeeded, %d failed", r.Op, r.Attempted, r.Succeeded, r.Failed)
	for _, e := range r.Errors {
		log.Printf("  %v", e)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func parseHexColor(s string) (color.NRGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{r, g, b, 255}, nil
}
