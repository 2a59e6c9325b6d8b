// Command xtts-generate synthesizes speech from text with a finetuned XTTS
// model and writes the result to a WAV file.
//
// It is invoked as a subprocess by a parent application; the stderr lines
// and exit codes form the contract: progress lines and a final SUCCESS on
// the happy path, a single ERROR line otherwise. Exit code 0 means success,
// 1 a runtime or dependency failure, 2 a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/Olbrasoft/TextToSpeech/internal/audio"
	"github.com/Olbrasoft/TextToSpeech/internal/config"
	"github.com/Olbrasoft/TextToSpeech/internal/core"
	"github.com/Olbrasoft/TextToSpeech/internal/fileutil"
	"github.com/Olbrasoft/TextToSpeech/internal/text"
	"github.com/Olbrasoft/TextToSpeech/internal/xtts"
)

const appName = "xtts-generate"

// Flag names.
const (
	flagBaseModel         = "base-model"
	flagFinetuned         = "finetuned"
	flagReferenceAudio    = "reference-audio"
	flagText              = "text"
	flagOutput            = "output"
	flagLanguage          = "language"
	flagTemperature       = "temperature"
	flagRepetitionPenalty = "repetition-penalty"
	flagTopK              = "top-k"
	flagTopP              = "top-p"
	flagDevice            = "device"
	flagSeed              = "seed"
	flagConfig            = "config"
	flagVerbose           = "verbose"
	flagNormalizeText     = "normalize-text"
)

// Flag descriptions.
const (
	flagBaseModelDesc         = "Directory containing the base XTTS model files"
	flagFinetunedDesc         = "Path to the finetuned model checkpoint"
	flagReferenceAudioDesc    = "Reference audio file for voice cloning"
	flagTextDesc              = "Text to synthesize"
	flagOutputDesc            = "Output file path (.wav)"
	flagLanguageDesc          = "Language code for synthesis"
	flagTemperatureDesc       = "Sampling temperature"
	flagRepetitionPenaltyDesc = "Penalty for repeated token sequences"
	flagTopKDesc              = "Top-K sampling cutoff"
	flagTopPDesc              = "Top-P (nucleus) sampling cutoff"
	flagDeviceDesc            = "Compute device (cpu or cuda)"
	flagSeedDesc              = "Sampling seed (0 selects the engine default)"
	flagConfigDesc            = "Path to xtts-generate.toml (defaults to searching the working directory)"
	flagVerboseDesc           = "Enable verbose logging"
	flagNormalizeTextDesc     = "Normalize input text before synthesis"
)

// Devices accepted by --device.
const (
	deviceCPU  = "cpu"
	deviceCUDA = "cuda"
)

// Protocol lines written to stderr for the parent process. These are parsed
// by the caller and must not change.
const (
	protoMissingDependency = "ERROR: Missing required dependency: %v\n"
	protoInstallHint       = "Install with: %s\n"
	protoBaseModelNotFound = "ERROR: Base model not found: %s\n"
	protoFinetunedNotFound = "ERROR: Finetuned checkpoint not found: %s\n"
	protoReferenceNotFound = "ERROR: Reference audio not found: %s\n"
	protoLoadingBaseModel  = "Loading base model from: %s\n"
	protoLoadingFinetuned  = "Loading finetuned weights from: %s\n"
	protoModelLoaded       = "Model loaded on device: %s\n"
	protoComputingLatents  = "Computing speaker latents from: %s\n"
	protoGenerating        = "Generating speech for text: %s...\n"
	protoAudioSaved        = "Audio saved to: %s\n"
	protoSuccess           = "SUCCESS\n"
	protoError             = "ERROR: %v\n"
)

// Exit codes. Usage errors follow the argparse convention of the tool this
// one replaces.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// Number of text runes echoed in the generation progress line.
const textPreviewRunes = 50

// Log file names.
const (
	logFileNameDefault = "xtts-generate.log"
	logFileNameVerbose = "xtts-generate-verbose.log"
)

// Error and log messages.
const (
	errFmtMissingFlag      = "missing required flag: --%s"
	errFmtInvalidDevice    = "invalid device %q: must be %q or %q"
	errFmtLoadConfig       = "failed to load configuration: %v"
	errFmtInitLogger       = "failed to initialize logger: %v"
	logFmtStarting         = "Starting %s (device: %s, language: %s)"
	logFmtParamsOutOfRange = "Sampling parameters outside the usual ranges, passing through unchanged: %v"
	logFmtOddReferenceExt  = "Reference audio %s has an unrecognized audio extension"
	logFmtNormalizedText   = "Normalized input text (%d -> %d bytes)"
	logFmtSynthesisDone    = "Synthesized %d samples (%s of audio)"
	logFmtAudioWritten     = "Wrote %s (%s)"
	logFmtRunFailed        = "Run failed: %v"
)

// appFlags holds the parsed command-line flag values. The set map records
// which flags were given explicitly, so config-file values survive for the
// rest.
type appFlags struct {
	baseModel         string
	finetuned         string
	referenceAudio    string
	text              string
	output            string
	language          string
	temperature       float64
	repetitionPenalty float64
	topK              int
	topP              float64
	device            string
	seed              int
	config            string
	verbose           bool
	normalizeText     bool
	set               map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run is the testable entry point: parses args, wires the pieces, and maps
// every outcome to the exit-code contract.
func run(args []string, stderr io.Writer) int {
	flags, parseErr := parseFlags(args, stderr)
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return exitOK
		}

		// The flag package has already written the diagnostics.
		return exitUsage
	}

	usageErr := validateFlags(flags)
	if usageErr != nil {
		fmt.Fprintf(stderr, protoError, usageErr)

		return exitUsage
	}

	cfg, cfgErr := config.Load(flags.config)
	if cfgErr != nil {
		fmt.Fprintf(stderr, protoError, fmt.Errorf(errFmtLoadConfig, cfgErr))

		return exitFailure
	}

	log, logErr := setupLogger(cfg, flags.verbose)
	if logErr != nil {
		fmt.Fprintf(stderr, protoError, fmt.Errorf(errFmtInitLogger, logErr))

		return exitFailure
	}

	defer func() {
		_ = log.Close()
	}()

	log.Info(logFmtStarting, appName, flags.device, flags.language)

	return generate(flags, cfg, log, stderr)
}

// parseFlags defines and parses command-line flags, returning them in a
// struct together with the set of explicitly provided names.
func parseFlags(args []string, stderr io.Writer) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet(appName, flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	flagSet.StringVar(&flags.baseModel, flagBaseModel, "", flagBaseModelDesc)
	flagSet.StringVar(&flags.finetuned, flagFinetuned, "", flagFinetunedDesc)
	flagSet.StringVar(&flags.referenceAudio, flagReferenceAudio, "", flagReferenceAudioDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.language, flagLanguage, core.DefaultLanguage, flagLanguageDesc)
	flagSet.Float64Var(&flags.temperature, flagTemperature, core.DefaultTemperature, flagTemperatureDesc)
	flagSet.Float64Var(&flags.repetitionPenalty, flagRepetitionPenalty, core.DefaultRepetitionPenalty, flagRepetitionPenaltyDesc)
	flagSet.IntVar(&flags.topK, flagTopK, core.DefaultTopK, flagTopKDesc)
	flagSet.Float64Var(&flags.topP, flagTopP, core.DefaultTopP, flagTopPDesc)
	flagSet.StringVar(&flags.device, flagDevice, deviceCPU, flagDeviceDesc)
	flagSet.IntVar(&flags.seed, flagSeed, 0, flagSeedDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)
	flagSet.BoolVar(&flags.normalizeText, flagNormalizeText, false, flagNormalizeTextDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	flags.set = make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		flags.set[f.Name] = true
	})

	return flags, nil
}

// validateFlags enforces the required flags and the device choice. An empty
// value for a required flag counts as missing.
func validateFlags(flags appFlags) error {
	required := []struct {
		name  string
		value string
	}{
		{flagBaseModel, flags.baseModel},
		{flagFinetuned, flags.finetuned},
		{flagReferenceAudio, flags.referenceAudio},
		{flagText, flags.text},
		{flagOutput, flags.output},
	}

	for _, req := range required {
		if req.value == "" {
			return fmt.Errorf(errFmtMissingFlag, req.name)
		}
	}

	if flags.device != deviceCPU && flags.device != deviceCUDA {
		return fmt.Errorf(errFmtInvalidDevice, flags.device, deviceCPU, deviceCUDA)
	}

	return nil
}

// setupLogger creates the run's file logger in the configured directory.
func setupLogger(cfg *config.Config, verbose bool) (*logger.Logger, error) {
	logFileName := logFileNameDefault
	if verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.LogsDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", cfg.Paths.LogsDir, err)
	}

	return log, nil
}

// generate runs the synthesis pipeline: dependency preflight, input
// validation, engine startup, conditioning, synthesis, and the WAV write.
func generate(
	flags appFlags,
	cfg *config.Config,
	log *logger.Logger,
	stderr io.Writer,
) int {
	// The runtime dependency is checked before any path validation, so a
	// missing installation is reported the same way on every machine.
	binPath, resolveErr := xtts.ResolveBinary(cfg.Engine.Binary)
	if resolveErr != nil {
		log.Error(logFmtRunFailed, resolveErr)
		fmt.Fprintf(stderr, protoMissingDependency, resolveErr)
		fmt.Fprintf(stderr, protoInstallHint, xtts.InstallHint)

		return exitFailure
	}

	paths, ok := validateInputPaths(flags, log, stderr)
	if !ok {
		return exitFailure
	}

	engine := xtts.NewEngine(xtts.Options{
		Binary:         binPath,
		ModelDir:       paths.baseModel,
		CheckpointPath: paths.finetuned,
		Device:         flags.device,
		ExtraArgs:      cfg.Engine.ExtraArgs,
		StartupTimeout: cfg.StartupTimeout(),
	}, log)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	fmt.Fprintf(stderr, protoLoadingBaseModel, flags.baseModel)
	fmt.Fprintf(stderr, protoLoadingFinetuned, flags.finetuned)

	startErr := engine.Start(ctx)
	if startErr != nil {
		log.Error(logFmtRunFailed, startErr)
		fmt.Fprintf(stderr, protoError, startErr)

		return exitFailure
	}

	defer func() {
		_ = engine.Stop()
	}()

	fmt.Fprintf(stderr, protoModelLoaded, flags.device)

	client, clientErr := engine.Client()
	if clientErr != nil {
		log.Error(logFmtRunFailed, clientErr)
		fmt.Fprintf(stderr, protoError, clientErr)

		return exitFailure
	}

	samples, synthOK := synthesize(ctx, client, flags, cfg, paths, log, stderr)
	if !synthOK {
		return exitFailure
	}

	writeErr := writeOutput(flags.output, samples, log)
	if writeErr != nil {
		log.Error(logFmtRunFailed, writeErr)
		fmt.Fprintf(stderr, protoError, writeErr)

		return exitFailure
	}

	fmt.Fprintf(stderr, protoAudioSaved, flags.output)
	fmt.Fprint(stderr, protoSuccess)

	return exitOK
}

// inputPaths carries the resolved input locations handed to the engine.
type inputPaths struct {
	baseModel string
	finetuned string
	reference string
}

// validateInputPaths checks the three input paths individually, in a fixed
// order, and reports the first missing one on stderr. Protocol lines echo
// the paths exactly as given on the command line.
func validateInputPaths(
	flags appFlags,
	log *logger.Logger,
	stderr io.Writer,
) (inputPaths, bool) {
	var paths inputPaths

	checks := []struct {
		raw      string
		format   string
		resolved *string
	}{
		{flags.baseModel, protoBaseModelNotFound, &paths.baseModel},
		{flags.finetuned, protoFinetunedNotFound, &paths.finetuned},
		{flags.referenceAudio, protoReferenceNotFound, &paths.reference},
	}

	for _, check := range checks {
		resolved, err := fileutil.Resolve(check.raw)
		if err != nil {
			log.Error(logFmtRunFailed, err)
			fmt.Fprintf(stderr, check.format, check.raw)

			return paths, false
		}

		*check.resolved = resolved
	}

	if !fileutil.IsValidAudioFile(flags.referenceAudio) {
		log.Warn(logFmtOddReferenceExt, flags.referenceAudio)
	}

	return paths, true
}

// synthesize computes the conditioning latents and runs the synthesis call
// against a core.Synthesizer, emitting the progress protocol lines.
func synthesize(
	ctx context.Context,
	synth core.Synthesizer,
	flags appFlags,
	cfg *config.Config,
	paths inputPaths,
	log *logger.Logger,
	stderr io.Writer,
) ([]float32, bool) {
	fmt.Fprintf(stderr, protoComputingLatents, flags.referenceAudio)

	condCtx, condCancel := context.WithTimeout(ctx, cfg.ConditioningTimeout())
	defer condCancel()

	latents, latentsErr := synth.ComputeLatents(condCtx, paths.reference)
	if latentsErr != nil {
		log.Error(logFmtRunFailed, latentsErr)
		fmt.Fprintf(stderr, protoError, latentsErr)

		return nil, false
	}

	params := buildParams(flags, cfg, log)

	fmt.Fprintf(stderr, protoGenerating, textPreview(params.Text))

	synthCtx, synthCancel := context.WithTimeout(ctx, cfg.SynthesisTimeout())
	defer synthCancel()

	samples, synthErr := synth.Synthesize(synthCtx, latents, params)
	if synthErr != nil {
		log.Error(logFmtRunFailed, synthErr)
		fmt.Fprintf(stderr, protoError, synthErr)

		return nil, false
	}

	log.Info(
		logFmtSynthesisDone,
		len(samples),
		fileutil.FormatDuration(float64(len(samples))/float64(audio.SampleRate)),
	)

	return samples, true
}

// buildParams merges config defaults with explicitly set flags. Values
// travel to the engine unmodified; out-of-range combinations only produce a
// log warning.
func buildParams(flags appFlags, cfg *config.Config, log *logger.Logger) core.SynthesisParams {
	params := core.SynthesisParams{
		Text:              flags.text,
		Language:          cfg.Synthesis.Language,
		Temperature:       cfg.Synthesis.Temperature,
		RepetitionPenalty: cfg.Synthesis.RepetitionPenalty,
		TopK:              cfg.Synthesis.TopK,
		TopP:              cfg.Synthesis.TopP,
		Seed:              cfg.Synthesis.Seed,
	}

	if flags.set[flagLanguage] {
		params.Language = flags.language
	}

	if flags.set[flagTemperature] {
		params.Temperature = flags.temperature
	}

	if flags.set[flagRepetitionPenalty] {
		params.RepetitionPenalty = flags.repetitionPenalty
	}

	if flags.set[flagTopK] {
		params.TopK = flags.topK
	}

	if flags.set[flagTopP] {
		params.TopP = flags.topP
	}

	if flags.set[flagSeed] {
		params.Seed = flags.seed
	}

	if flags.normalizeText || cfg.Text.Normalize {
		normalized := text.NewNormalizer().Normalize(params.Text)

		log.Info(logFmtNormalizedText, len(params.Text), len(normalized))
		params.Text = normalized
	}

	validateErr := params.Validate()
	if validateErr != nil {
		log.Warn(logFmtParamsOutOfRange, validateErr)
	}

	return params
}

// writeOutput encodes the samples into the target WAV file, creating the
// parent directory when needed.
func writeOutput(outputPath string, samples []float32, log *logger.Logger) error {
	dirErr := fileutil.EnsureDir(filepath.Dir(outputPath))
	if dirErr != nil {
		return dirErr
	}

	wavErr := audio.WriteWAV(outputPath, samples)
	if wavErr != nil {
		return wavErr
	}

	log.Info(
		logFmtAudioWritten,
		outputPath,
		fileutil.FormatFileSize(fileutil.FileSize(outputPath)),
	)

	return nil
}

// textPreview returns the first part of the text for the progress line.
func textPreview(input string) string {
	runes := []rune(input)
	if len(runes) <= textPreviewRunes {
		return input
	}

	return string(runes[:textPreviewRunes])
}
