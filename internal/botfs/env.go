package botfs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"bothost/internal/models"

	"github.com/joho/godotenv"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ValidateEnv rejects keys that cannot be represented in a .env file.
func ValidateEnv(vars map[string]string) error {
	for k := range vars {
		if !envKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: env key %q", models.ErrInvalidParam, k)
		}
	}
	return nil
}

// WriteEnv replaces the bot's .env file with one KEY=VALUE line per variable.
// Values that would not survive ReadEnv verbatim (line breaks, a leading
// quote, surrounding spaces) are quoted. A quoted value cannot end in a
// backslash.
func WriteEnv(botDir string, vars map[string]string) error {
	if err := ValidateEnv(vars); err != nil {
		return err
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeEnvValue(vars[k]))
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(botDir, EnvFile), []byte(b.String()), 0600)
}

// ReadEnv parses the bot's .env file line by line. Blank lines, # comments
// and lines without '=' are skipped; each assignment splits on the first
// '='. Quoted values are decoded by godotenv, anything else is taken
// literally. A missing file yields an empty map.
func ReadEnv(botDir string) (map[string]string, error) {
	f, err := os.Open(filepath.Join(botDir, EnvFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := map[string]string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEnvLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		vars[key] = decodeEnvValue(line, key, strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", EnvFile, err)
	}
	return vars, nil
}

const maxEnvLine = 1 << 20

func decodeEnvValue(line, key, value string) string {
	if value == "" || (value[0] != '\'' && value[0] != '"') {
		return value
	}
	parsed, err := godotenv.Unmarshal(line)
	if v, ok := parsed[key]; err == nil && ok {
		return v
	}
	return value
}

func encodeEnvValue(v string) string {
	if v == "" {
		return v
	}
	if !strings.ContainsAny(v, "\n\r") && v[0] != '\'' && v[0] != '"' && strings.TrimSpace(v) == v {
		return v
	}
	// single quotes are literal to godotenv
	if !strings.ContainsAny(v, "'\n\r") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
