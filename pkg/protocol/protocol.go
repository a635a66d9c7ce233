// Package protocol contains the wire-level constants of the BruteforceMovable
// coordination server: endpoint paths, the literal response tokens the server
// uses instead of HTTP status codes, and the reserved worker exit codes.
package protocol

// Endpoint paths, relative to the server base URL.
const (
	PathGetWork   = "/getWork"
	PathClaimWork = "/claimWork"
	PathCheck     = "/check"
	PathKillWork  = "/killWork"
	PathGetPart1  = "/getPart1"
	PathUpload    = "/upload"

	// Static assets served next to the API.
	PathVersion        = "/static/autolauncher_version"
	PathBenchmarkPart1 = "/static/impossible_part1.sed"
)

// Literal response-body tokens. The body, not the status code, is the
// authoritative signal on every endpoint.
const (
	TokenNothing = "nothing" // getWork: no job available
	TokenError   = "error"   // claimWork: job already claimed by another client
	TokenOK      = "ok"      // check: job still alive on the server
	TokenSuccess = "success" // upload: result accepted
)

// Query parameter names.
const (
	ParamTask      = "task"
	ParamKill      = "kill"
	ParamMinerName = "minername"
)

// Disposition values for the kill parameter of killWork.
const (
	DispositionKill    = "y" // job is fully consumed, never hand it out again
	DispositionRequeue = "n" // job goes back in the pool for other clients
)

// Multipart field names for the upload endpoint.
const (
	FieldMovable = "movable"
	FieldMsed    = "msed"
)

// ExitExhausted is the reserved worker exit code meaning the configured
// search-space offset limit was reached without finding a result. It is a
// normal terminal state, not a crash.
const ExitExhausted = 101

// Worker invocation: the brute-forcer is launched with positional arguments
// "gpu 0 <search-space-size>".
const (
	WorkerModeGPU    = "gpu"
	WorkerFirstIndex = "0"
)
