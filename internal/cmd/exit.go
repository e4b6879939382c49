package cmd

// Exit codes.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitValidationError indicates invalid settings or arguments.
	ExitValidationError = 2

	// ExitConnectivityError indicates the update server could not be reached.
	ExitConnectivityError = 3

	// ExitPermissionDenied indicates a file or directory was not accessible.
	ExitPermissionDenied = 4

	// ExitNotFound indicates a version, bundle, or file was not found.
	ExitNotFound = 5

	// ExitVerificationError indicates a manifest or downloaded asset was
	// rejected.
	ExitVerificationError = 6
)

// ExitCodeName returns the name of the exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitSuccess:
		return "Success"
	case ExitGeneralError:
		return "General Error"
	case ExitValidationError:
		return "Validation Error"
	case ExitConnectivityError:
		return "Connectivity Error"
	case ExitPermissionDenied:
		return "Permission Denied"
	case ExitNotFound:
		return "Not Found"
	case ExitVerificationError:
		return "Verification Error"
	default:
		return "Unknown"
	}
}
