package config

// Default returns the baseline configuration before any file overrides.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/reelpipe",
			WorkDir: "~/.cache/reelpipe/work",
			LogDir:  "~/.local/share/reelpipe/logs",
			APIBind: "127.0.0.1:7749",
		},
		Fal: Fal{
			BaseURL:            "https://queue.fal.run",
			RequestTimeout:     30,
			GenerationTimeout:  300,
			PollInterval:       3,
			PollRatePerSecond:  1,
			BreakerMaxFailures: 5,
			BreakerCooldown:    60,
		},
		TikTok: TikTok{
			BaseURL:        "https://api.tikapi.io",
			RequestTimeout: 60,
		},
		Late: Late{
			BaseURL:        "https://api.getlate.dev/v1",
			RequestTimeout: 30,
			AutoPost:       false,
		},
		Storage: Storage{
			BaseURL:        "",
			Bucket:         "reelpipe-media",
			RequestTimeout: 120,
			SignExpiry:     3600,
			SignCacheTTL:   3000,
			SignCacheMax:   2048,
		},
		Render: Render{
			FFmpegBinary:  "ffmpeg",
			RenderTimeout: 180,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			WorkerCount:        4,
			StepTimeout:        300,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
