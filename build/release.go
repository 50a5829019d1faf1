package build

// Release identifies which build configuration the binary was compiled
// under. It gates the verbosity of Critical/Severe and nothing else.
var Release = "testing"

// DEBUG controls whether Critical/Severe escalate to a panic. It is true
// by default so that test binaries fail loudly on invariant violations
// instead of limping along in a corrupted state.
var DEBUG = true
