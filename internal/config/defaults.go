package config

const (
	defaultRoot               = "~/dropbox"
	defaultScratchDir         = "~/.local/share/pagebind/scratch"
	defaultOutputDir          = "~/.local/share/pagebind/output"
	defaultLogDir             = "~/.local/share/pagebind/logs"
	defaultJournalPath        = "~/.local/share/pagebind/journal.db"
	defaultRemoteKind         = "s3"
	defaultRemoteProfile      = "default"
	defaultOutboxPrefix       = "outbox"
	defaultBatchesPrefix      = "batches"
	defaultBatchNameTemplate  = "batch{id}"
	defaultMasterDirTemplate  = "/content/prod/rstar/content/{partner}/{collection}/wip/se/{book}/aux"
	defaultAuxDirTemplate     = "/content/prod/rstar/content/{partner}/{collection}/wip/se/{book}/aux"
	defaultOCRDirTemplate     = ""
	defaultBookIDPattern      = `^(?P<partner>[^_]+)_(?P<collection>[A-Za-z]+)\d{6}$`
	defaultToolTimeoutSeconds = 600
	defaultLockTimeoutSeconds = 300
	defaultValidator          = "auto"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

var (
	defaultVariants       = map[string]int{"hi": 200, "lo": 96}
	defaultNormalizeStrip = []string{"_lo"}
	defaultMergeOrder     = []string{"qpdf", "pdftk", "pdfbox", "pdfcpu"}
	defaultPDFBoxJars     = []string{
		"/usr/share/java/pdfbox.jar",
		"/usr/share/java/pdfbox-tools.jar",
		"/usr/share/java/commons-logging.jar",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Root:        defaultRoot,
			CacheDir:    defaultCacheDir(),
			ScratchDir:  defaultScratchDir,
			OutputDir:   defaultOutputDir,
			LogDir:      defaultLogDir,
			JournalPath: defaultJournalPath,
		},
		Remote: Remote{
			Kind:              defaultRemoteKind,
			Profile:           defaultRemoteProfile,
			OutboxPrefix:      defaultOutboxPrefix,
			BatchesPrefix:     defaultBatchesPrefix,
			BatchNameTemplate: defaultBatchNameTemplate,
			NormalizeStrip:    append([]string(nil), defaultNormalizeStrip...),
		},
		Books: Books{
			MasterDirTemplate: defaultMasterDirTemplate,
			OCRDirTemplate:    defaultOCRDirTemplate,
			AuxDirTemplate:    defaultAuxDirTemplate,
			BookIDPattern:     defaultBookIDPattern,
		},
		PDF: PDF{
			Validate: true,
		},
		Tools: Tools{
			TimeoutSeconds: defaultToolTimeoutSeconds,
			MergeOrder:     append([]string(nil), defaultMergeOrder...),
			PDFBoxJars:     append([]string(nil), defaultPDFBoxJars...),
			EnablePDFCPU:   true,
			Validator:      defaultValidator,
		},
		Cache: Cache{
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultVariantMap() map[string]int {
	variants := make(map[string]int, len(defaultVariants))
	for name, dpi := range defaultVariants {
		variants[name] = dpi
	}
	return variants
}
