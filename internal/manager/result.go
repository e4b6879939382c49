package manager

// State is a step of the update workflow.
type State int

const (
	StateIdle State = iota
	StateCheckingManifest
	StatePreparingDownload
	StateDownloading
	StateFinalizing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingManifest:
		return "checking-manifest"
	case StatePreparingDownload:
		return "preparing-download"
	case StateDownloading:
		return "downloading"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Decision is the owner's answer to whether a version should be fetched.
type Decision struct {
	Accept bool
	// Reason explains a rejection, or a warning attached to an acceptance.
	Reason string
}

// Accept returns an accepting decision.
func Accept() Decision {
	return Decision{Accept: true}
}

// AcceptWithWarning accepts while recording a reason.
func AcceptWithWarning(reason string) Decision {
	return Decision{Accept: true, Reason: reason}
}

// Reject returns a rejecting decision.
func Reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Status is the path a check took.
type Status int

const (
	// StatusFailed means the check or preparation failed; the error went to
	// Callback.OnError.
	StatusFailed Status = iota
	// StatusAlreadyDownloading means the version is being fetched already.
	StatusAlreadyDownloading
	// StatusRejected means the owner declined the version.
	StatusRejected
	// StatusAlreadyAvailable means the version is the initial bundle or was
	// downloaded before.
	StatusAlreadyAvailable
	// StatusFinished means every asset was found locally and the version
	// was committed without network transfer.
	StatusFinished
	// StatusDownloadStarted means a download is running in the background.
	StatusDownloadStarted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusAlreadyDownloading:
		return "already-downloading"
	case StatusRejected:
		return "rejected"
	case StatusAlreadyAvailable:
		return "already-available"
	case StatusFinished:
		return "finished"
	case StatusDownloadStarted:
		return "download-started"
	default:
		return "unknown"
	}
}

// CheckResult describes the outcome of one CheckForUpdates call.
type CheckResult struct {
	Status  Status
	Version string
	// Decision is the owner's answer, when it was asked.
	Decision Decision
	// Missing counts the assets handed to the downloader.
	Missing int
}
