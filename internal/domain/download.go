package domain

// DownloadPhase is a state of the bulk downloader
type DownloadPhase string

const (
	PhaseIdle        DownloadPhase = "idle"
	PhaseFetching    DownloadPhase = "fetching"
	PhaseDownloading DownloadPhase = "downloading"
	PhaseComplete    DownloadPhase = "complete"
	PhaseError       DownloadPhase = "error"
)

// DownloadProgress is reported to the caller at phase transitions and per record
type DownloadProgress struct {
	RunID   string        `json:"run_id"`
	Phase   DownloadPhase `json:"phase"`
	Current int           `json:"current"`
	Total   int           `json:"total"`
	Message string        `json:"message,omitempty"`

	// Resumable is set on the error phase when a checkpoint was kept
	Resumable bool `json:"resumable,omitempty"`
}

// ProgressFunc receives download progress updates
type ProgressFunc func(DownloadProgress)

// DownloadSummary is the final result of a bulk download
type DownloadSummary struct {
	StoriesDownloaded int `json:"stories_downloaded"`
	ImagesDownloaded  int `json:"images_downloaded"`
	Errors            int `json:"errors"`
	Skipped           int `json:"skipped"`
}

// ResumeInfo describes a checkpoint that a new run could resume from
type ResumeInfo struct {
	CanResume bool `json:"can_resume"`
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
}
