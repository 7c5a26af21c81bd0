package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/gallery"
	"studio/internal/infra"
	"studio/internal/normalize"
	"studio/internal/queue"
	"studio/internal/settings"
	"studio/internal/store"
	"studio/pkg/zip"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	if command == "help" || command == "-h" || command == "--help" {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openStudio(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "studio: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	var code int
	switch command {
	case "generate":
		code = app.runGenerate(ctx, os.Args[2:])
	case "models":
		code = app.runModels(ctx, os.Args[2:])
	case "keys":
		code = app.runKeys(ctx, os.Args[2:])
	case "gallery":
		code = app.runGallery(ctx, os.Args[2:])
	case "config":
		code = app.runConfig(ctx, os.Args[2:])
	case "last":
		code = app.runLast(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: studio <command> [flags]

commands:
  generate   run one generation job and wait for the result
  models     list or refresh the model catalog for an engine
  keys       store, clear, or inspect engine API keys
  gallery    list, export, or clear saved media
  config     show or change the persisted generation defaults
  last       show the most recent result

run "studio <command> -h" for the flags of each command.`)
}

// studio bundles the wired application: both storage tiers, the settings
// store, the relay client, the gallery, and the job queue.
type studio struct {
	cfg    *infra.Config
	logger infra.Logger
	tiers  *store.Tiers
	prefs  *settings.Store
	client *engine.Client
	media  *gallery.Manager
	jobs   *queue.Queue

	mu      sync.Mutex
	lastOut *domain.Output
}

func openStudio(ctx context.Context) (*studio, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv)

	tiers, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}

	prefs, err := settings.New(settings.Options{Records: tiers.Records, Logger: &logger})
	if err != nil {
		return nil, err
	}
	if err := prefs.Load(ctx); err != nil {
		return nil, err
	}

	client, err := engine.NewClient(engine.Options{
		BaseURL:        cfg.RelayURL,
		Logger:         &logger,
		RequestTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}

	media, err := gallery.New(gallery.Options{
		Records: tiers.Records,
		Blobs:   tiers.Blobs,
		Fetcher: client,
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	if err := media.Load(ctx); err != nil {
		return nil, err
	}

	app := &studio{
		cfg:    cfg,
		logger: logger,
		tiers:  tiers,
		prefs:  prefs,
		client: client,
		media:  media,
	}
	jobs, err := queue.New(queue.Options{
		Engine:   client,
		Logger:   &logger,
		OnOutput: app.captureOutput,
	})
	if err != nil {
		return nil, err
	}
	app.jobs = jobs
	return app, nil
}

func (s *studio) Close() {
	if err := s.tiers.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("studio: closing stores failed")
	}
}

// captureOutput hangs off the queue's success hook: it saves media to the
// gallery, snapshots the last output, and stashes the raw result for -out.
func (s *studio) captureOutput(ctx context.Context, job domain.Job, out domain.Output) {
	saved := s.media.Add(ctx, job, out)

	snapshot := domain.LastOutput{
		Mode:     job.Mode,
		Prompt:   job.Prompt,
		Model:    job.Model,
		Provider: job.Provider,
	}
	if job.Mode == domain.ModeTTS {
		snapshot.Voice = job.Params.Voice
	}
	for _, item := range saved {
		snapshot.MediaIDs = append(snapshot.MediaIDs, item.ID)
	}
	if err := s.prefs.SetLastOutput(ctx, snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("studio: persist last output failed")
	}

	s.mu.Lock()
	s.lastOut = &out
	s.mu.Unlock()
}

func (s *studio) runGenerate(ctx context.Context, args []string) int {
	current := s.prefs.Current()
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		modeFlag       = fs.String("mode", string(current.Mode), "generation mode: image, video, or tts")
		providerFlag   = fs.String("provider", "", "engine: navy, iris, or onyx (default: saved choice)")
		modelFlag      = fs.String("model", "", "model id (default: last used for the engine and mode)")
		promptFlag     = fs.String("prompt", "", "generation prompt (default: saved prompt)")
		aspectFlag     = fs.String("aspect", current.AspectRatio, "image aspect ratio")
		resolutionFlag = fs.String("resolution", current.Resolution, "video resolution")
		stepsFlag      = fs.Int("steps", current.Steps, "diffusion steps for image jobs")
		durationFlag   = fs.Int("duration", current.Duration, "video length in seconds")
		voiceFlag      = fs.String("voice", "", "speech voice (default: saved or engine default)")
		noSave         = fs.Bool("no-save", false, "skip saving the result to the gallery")
		outFlag        = fs.String("out", "", "write the primary result to this file")
		timeoutFlag    = fs.Duration("timeout", 15*time.Minute, "overall job timeout")
	)
	_ = fs.Parse(args)

	mode := domain.Mode(strings.TrimSpace(*modeFlag))
	if !domain.KnownMode(mode) {
		fmt.Fprintf(os.Stderr, "unsupported mode %q\n", *modeFlag)
		return 2
	}
	provider := current.Provider
	if trimmed := strings.TrimSpace(*providerFlag); trimmed != "" {
		provider = domain.Provider(trimmed)
	}
	if !domain.KnownProvider(provider) {
		fmt.Fprintf(os.Stderr, "unsupported engine %q\n", provider)
		return 2
	}
	if !provider.Serves(mode) {
		if *providerFlag != "" {
			fmt.Fprintf(os.Stderr, "%s does not serve %s\n", provider, mode)
			return 2
		}
		provider = domain.ProvidersFor(mode)[0]
	}

	prompt := strings.TrimSpace(*promptFlag)
	if prompt == "" {
		prompt = strings.TrimSpace(current.Prompt)
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "a prompt is required (use -prompt or save one with: studio config -prompt ...)")
		return 2
	}

	apiKey := s.prefs.APIKey(provider)
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "no API key stored for %s; run: studio keys -provider %s -set <key>\n", provider, provider)
		return 2
	}

	model := strings.TrimSpace(*modelFlag)
	if model == "" {
		model = s.prefs.ModelFor(provider, mode)
	}

	// Out-of-range parameter values are repaired the same way stored ones are.
	scratch := current
	scratch.Mode = mode
	scratch.Provider = provider
	scratch.AspectRatio = *aspectFlag
	scratch.Resolution = *resolutionFlag
	scratch.Steps = *stepsFlag
	scratch.Duration = *durationFlag
	if trimmed := strings.TrimSpace(*voiceFlag); trimmed != "" {
		scratch.Voice = trimmed
	}
	scratch.Normalize()
	params := scratch.Params()
	params.SaveToGallery = !*noSave

	if err := s.prefs.SetModelFor(ctx, provider, mode, model); err != nil {
		s.logger.Warn().Err(err).Msg("studio: persist model choice failed")
	}
	if _, err := s.prefs.Update(ctx, func(bag *domain.Settings) {
		bag.Prompt = prompt
		bag.Mode = mode
		bag.Provider = provider
		bag.AspectRatio = params.AspectRatio
		bag.Resolution = params.Resolution
		bag.Steps = params.Steps
		bag.Duration = params.Duration
		bag.Voice = params.Voice
	}); err != nil {
		s.logger.Warn().Err(err).Msg("studio: persist settings failed")
	}

	jobCtx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()
	go s.jobs.Run(jobCtx)

	var lastProgress string
	unsubscribe := s.jobs.Subscribe(func(j domain.Job) {
		if j.Progress == "" || j.Progress == lastProgress {
			return
		}
		lastProgress = j.Progress
		fmt.Fprintf(os.Stderr, "  %s\n", j.Progress)
	})
	defer unsubscribe()

	jobID, err := s.jobs.Enqueue(queue.Request{
		Mode:     mode,
		Provider: provider,
		Model:    model,
		Prompt:   prompt,
		APIKey:   apiKey,
		Params:   params,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot enqueue: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "generating %s via %s (%s)\n", mode, provider, model)

	job, err := s.jobs.Wait(jobCtx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gave up waiting: %v\n", err)
		return 1
	}
	if job.Status != domain.JobSuccess {
		fmt.Fprintf(os.Stderr, "generation failed: %s\n", job.Error)
		return 1
	}

	elapsed := job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond)
	fmt.Printf("done in %s\n", elapsed)
	if last, ok := s.prefs.LastOutput(); ok {
		for _, id := range last.MediaIDs {
			fmt.Printf("saved %s\n", id)
		}
	}

	if *outFlag != "" {
		if err := s.exportOutput(ctx, *outFlag); err != nil {
			fmt.Fprintf(os.Stderr, "write result: %v\n", err)
			return 1
		}
	}
	return 0
}

// exportOutput writes the primary media of the stashed output to a file.
func (s *studio) exportOutput(ctx context.Context, path string) error {
	s.mu.Lock()
	out := s.lastOut
	s.mu.Unlock()
	if out == nil || out.Empty() {
		return fmt.Errorf("no output to write")
	}

	var (
		data []byte
		mime string
		err  error
	)
	switch {
	case len(out.Images) > 0:
		data, mime, err = s.resolveSource(ctx, out.Images[0].Src)
	case out.Video != nil:
		data, mime, err = s.resolvePayload(ctx, out.Video)
	case out.Audio != nil:
		data, mime, err = s.resolvePayload(ctx, out.Audio)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes, %s)\n", path, len(data), mime)
	return nil
}

func (s *studio) resolveSource(ctx context.Context, src string) ([]byte, string, error) {
	if normalize.IsDataURL(src) {
		mime, data, err := normalize.ParseDataURL(src)
		return data, mime, err
	}
	return s.client.Download(ctx, src)
}

func (s *studio) resolvePayload(ctx context.Context, payload *domain.MediaPayload) ([]byte, string, error) {
	if len(payload.Data) > 0 {
		return payload.Data, payload.MimeType, nil
	}
	return s.resolveSource(ctx, payload.URL)
}

func (s *studio) runModels(ctx context.Context, args []string) int {
	current := s.prefs.Current()
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	var (
		providerFlag = fs.String("provider", string(current.Provider), "engine: navy, iris, or onyx")
		modeFlag     = fs.String("mode", string(current.Mode), "generation mode: image, video, or tts")
		refresh      = fs.Bool("refresh", false, "fetch the live catalog from the engine")
	)
	_ = fs.Parse(args)

	provider := domain.Provider(strings.TrimSpace(*providerFlag))
	mode := domain.Mode(strings.TrimSpace(*modeFlag))
	if !domain.KnownProvider(provider) {
		fmt.Fprintf(os.Stderr, "unsupported engine %q\n", *providerFlag)
		return 2
	}
	if !domain.KnownMode(mode) {
		fmt.Fprintf(os.Stderr, "unsupported mode %q\n", *modeFlag)
		return 2
	}
	if !provider.Serves(mode) {
		fmt.Fprintf(os.Stderr, "%s does not serve %s\n", provider, mode)
		return 2
	}

	if *refresh {
		apiKey := s.prefs.APIKey(provider)
		if apiKey == "" {
			fmt.Fprintf(os.Stderr, "no API key stored for %s; run: studio keys -provider %s -set <key>\n", provider, provider)
			return 2
		}
		options, err := s.client.FetchModels(ctx, provider, mode, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			return 1
		}
		if err := s.prefs.SetCatalog(ctx, provider, mode, options); err != nil {
			s.logger.Warn().Err(err).Msg("studio: persist catalog failed")
		}
	}

	options := s.prefs.Catalog(provider, mode)
	if len(options) == 0 {
		fmt.Printf("no cached models for %s %s; run: studio models -provider %s -mode %s -refresh\n", provider, mode, provider, mode)
		return 0
	}
	selected := s.prefs.ModelFor(provider, mode)
	for _, opt := range options {
		marker := "  "
		if opt.ID == selected {
			marker = "* "
		}
		fmt.Printf("%s%-32s %s\n", marker, opt.ID, opt.Label)
	}
	return 0
}

func (s *studio) runKeys(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	var (
		providerFlag = fs.String("provider", "", "engine: navy, iris, or onyx")
		setFlag      = fs.String("set", "", "store this API key for the engine")
		clearFlag    = fs.Bool("clear", false, "remove the stored key for the engine")
	)
	_ = fs.Parse(args)

	if *setFlag == "" && !*clearFlag {
		for _, p := range []domain.Provider{domain.ProviderNavy, domain.ProviderIris, domain.ProviderOnyx} {
			state := "not set"
			if key := s.prefs.APIKey(p); key != "" {
				state = maskKey(key)
			}
			fmt.Printf("%-6s %s\n", p, state)
		}
		return 0
	}

	provider := domain.Provider(strings.TrimSpace(*providerFlag))
	if !domain.KnownProvider(provider) {
		fmt.Fprintf(os.Stderr, "an engine is required: -provider navy|iris|onyx\n")
		return 2
	}
	if *clearFlag {
		if err := s.prefs.SetAPIKey(ctx, provider, ""); err != nil {
			fmt.Fprintf(os.Stderr, "clear key: %v\n", err)
			return 1
		}
		fmt.Printf("cleared key for %s\n", provider)
		return 0
	}
	if err := s.prefs.SetAPIKey(ctx, provider, *setFlag); err != nil {
		fmt.Fprintf(os.Stderr, "store key: %v\n", err)
		return 1
	}
	fmt.Printf("stored key for %s\n", provider)
	return 0
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

func (s *studio) runGallery(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("gallery", flag.ExitOnError)
	var (
		limitFlag   = fs.Int("limit", 0, "show at most this many entries (0 = all)")
		clearFlag   = fs.Bool("clear", false, "delete every saved entry and its media")
		exportFlag  = fs.String("export", "", "write the media of this entry id to a file")
		archiveFlag = fs.String("archive", "", "bundle every entry's media into this zip file")
		outFlag     = fs.String("out", "", "target path for -export (default: derived from the entry)")
	)
	_ = fs.Parse(args)

	if *clearFlag {
		if err := s.media.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "clear gallery: %v\n", err)
			return 1
		}
		fmt.Println("gallery cleared")
		return 0
	}

	if *archiveFlag != "" {
		items := s.media.List()
		if len(items) == 0 {
			fmt.Println("gallery is empty, nothing to archive")
			return 0
		}
		entries := make([]zip.Entry, 0, len(items))
		for _, item := range items {
			data, mime, err := s.media.Open(ctx, item.Ref)
			if err != nil {
				s.logger.Warn().Err(err).Str("media_id", item.ID).Msg("studio: skipping unreadable entry")
				continue
			}
			entries = append(entries, zip.Entry{Name: item.ID + extensionFor(mime), Data: data})
		}
		archive, err := zip.Archive(entries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build archive: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*archiveFlag, archive, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write archive: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %s (%d entries, %d bytes)\n", *archiveFlag, len(entries), len(archive))
		return 0
	}

	if *exportFlag != "" {
		entry, ok := s.media.Get(*exportFlag)
		if !ok {
			fmt.Fprintf(os.Stderr, "no gallery entry %q\n", *exportFlag)
			return 1
		}
		data, mime, err := s.media.Open(ctx, entry.Ref)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open media: %v\n", err)
			return 1
		}
		path := *outFlag
		if path == "" {
			path = entry.ID + extensionFor(mime)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write media: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %s (%d bytes, %s)\n", path, len(data), mime)
		return 0
	}

	items := s.media.List()
	if len(items) == 0 {
		fmt.Println("gallery is empty")
		return 0
	}
	if *limitFlag > 0 && len(items) > *limitFlag {
		items = items[:*limitFlag]
	}
	for _, item := range items {
		fmt.Printf("%s  %-5s  %-8s  %s  %s\n",
			item.CreatedAt.Format("2006-01-02 15:04"),
			item.Kind,
			item.Provider,
			item.ID,
			clip(item.Prompt, 48),
		)
	}
	return 0
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func extensionFor(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

func (s *studio) runConfig(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		promptFlag     = fs.String("prompt", "", "default generation prompt")
		modeFlag       = fs.String("mode", "", "default mode: image, video, or tts")
		providerFlag   = fs.String("provider", "", "default engine: navy, iris, or onyx")
		aspectFlag     = fs.String("aspect", "", "default image aspect ratio")
		resolutionFlag = fs.String("resolution", "", "default video resolution")
		stepsFlag      = fs.Int("steps", -1, "default diffusion steps")
		durationFlag   = fs.Int("duration", -1, "default video length in seconds")
		voiceFlag      = fs.String("voice", "", "default speech voice")
		localeFlag     = fs.String("locale", "", "prompt locale: en or id")
		saveFlag       = fs.String("save", "", "save results to the gallery: true or false")
	)
	_ = fs.Parse(args)

	changed := *promptFlag != "" || *modeFlag != "" || *providerFlag != "" ||
		*aspectFlag != "" || *resolutionFlag != "" || *stepsFlag >= 0 ||
		*durationFlag >= 0 || *voiceFlag != "" || *localeFlag != "" || *saveFlag != ""

	bag := s.prefs.Current()
	if changed {
		var err error
		bag, err = s.prefs.Update(ctx, func(next *domain.Settings) {
			if *promptFlag != "" {
				next.Prompt = *promptFlag
			}
			if *modeFlag != "" {
				next.Mode = domain.Mode(*modeFlag)
			}
			if *providerFlag != "" {
				next.Provider = domain.Provider(*providerFlag)
			}
			if *aspectFlag != "" {
				next.AspectRatio = *aspectFlag
			}
			if *resolutionFlag != "" {
				next.Resolution = *resolutionFlag
			}
			if *stepsFlag >= 0 {
				next.Steps = *stepsFlag
			}
			if *durationFlag >= 0 {
				next.Duration = *durationFlag
			}
			if *voiceFlag != "" {
				next.Voice = *voiceFlag
			}
			if *localeFlag != "" {
				next.Locale = *localeFlag
			}
			switch strings.ToLower(*saveFlag) {
			case "true", "yes", "on":
				next.SaveToGallery = true
			case "false", "no", "off":
				next.SaveToGallery = false
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "save settings: %v\n", err)
			return 1
		}
	}

	fmt.Printf("mode        %s\n", bag.Mode)
	fmt.Printf("provider    %s\n", bag.Provider)
	fmt.Printf("aspect      %s\n", bag.AspectRatio)
	fmt.Printf("resolution  %s\n", bag.Resolution)
	fmt.Printf("steps       %d\n", bag.Steps)
	fmt.Printf("duration    %ds\n", bag.Duration)
	fmt.Printf("voice       %s\n", bag.Voice)
	fmt.Printf("locale      %s\n", bag.Locale)
	fmt.Printf("save        %t\n", bag.SaveToGallery)
	if bag.Prompt != "" {
		fmt.Printf("prompt      %s\n", clip(bag.Prompt, 64))
	}
	return 0
}

func (s *studio) runLast(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("last", flag.ExitOnError)
	outFlag := fs.String("out", "", "write the first media of the last result to this file")
	_ = fs.Parse(args)

	last, ok := s.prefs.LastOutput()
	if !ok {
		fmt.Println("no output recorded yet")
		return 0
	}
	fmt.Printf("mode      %s\n", last.Mode)
	fmt.Printf("provider  %s\n", last.Provider)
	fmt.Printf("model     %s\n", last.Model)
	if last.Voice != "" {
		fmt.Printf("voice     %s\n", last.Voice)
	}
	fmt.Printf("prompt    %s\n", clip(last.Prompt, 64))
	for _, id := range last.MediaIDs {
		fmt.Printf("media     %s\n", id)
	}

	if *outFlag != "" {
		if len(last.MediaIDs) == 0 {
			fmt.Fprintln(os.Stderr, "the last result saved no media to export")
			return 1
		}
		entry, ok := s.media.Get(last.MediaIDs[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "media %s is no longer in the gallery\n", last.MediaIDs[0])
			return 1
		}
		data, mime, err := s.media.Open(ctx, entry.Ref)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open media: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*outFlag, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write media: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %s (%d bytes, %s)\n", *outFlag, len(data), mime)
	}
	return 0
}
