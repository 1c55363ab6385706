package session

import "os"

// passthroughEnvVars is the allowlist of environment variables forwarded
// into the app server. Anything not listed here never crosses the process
// boundary. Keep this a single table so the allowlist stays auditable.
var passthroughEnvVars = []string{
	// AI provider credentials
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"OPENROUTER_API_KEY",
	"GOOGLE_API_KEY",

	// app server configuration
	"CODEX_CONFIG_PATH",
	"RUST_LOG",
	"CODEX_UNSAFE_ALLOW_NO_SANDBOX",

	// runtime basics the child needs to function at all
	"PATH",
	"HOME",
}

// passthroughEnv builds the child environment from the allowlist, keeping
// only variables present in the parent environment.
func passthroughEnv() []string {
	return passthroughEnvFrom(os.LookupEnv)
}

func passthroughEnvFrom(lookup func(string) (string, bool)) []string {
	// never nil: exec.Cmd treats a nil Env as "inherit everything", which
	// would leak the entire parent environment into the child
	env := []string{}
	for _, name := range passthroughEnvVars {
		if val, ok := lookup(name); ok {
			env = append(env, name+"="+val)
		}
	}
	return env
}
