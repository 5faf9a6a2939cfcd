package keeper

import (
	"os"
	"sort"
)

// inheritedEnv lists the only host variables a bot can see.
var inheritedEnv = []string{"PATH", "HOME", "LANG"}

// buildEnv merges, lowest precedence first: the inherited allow-list with
// host markers, the bot's .env file, and the variables supplied by the caller.
// The runtime gets the last word for its own variables.
func buildEnv(botID, botDir string, rt *Runtime, fileVars, callVars map[string]string) []string {
	env := map[string]string{
		"LANG": "en_US.UTF-8",
	}
	for _, k := range inheritedEnv {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			env[k] = v
		}
	}
	env["NODE_ENV"] = "production"
	env["BOT_ID"] = botID

	for k, v := range fileVars {
		env[k] = v
	}
	for k, v := range callVars {
		env[k] = v
	}
	if rt != nil && rt.Env != nil {
		rt.Env(botDir, env)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
