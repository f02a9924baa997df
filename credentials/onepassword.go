package credentials

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WithOnePassword registers an "op" template function that resolves secrets
// using the 1Password CLI (`op read`).
func WithOnePassword() ResolverOption {
	return WithProvider("op", commandProvider("op", "read"))
}

// commandProvider runs name with args followed by the secret reference and
// returns its trimmed stdout.
func commandProvider(name string, args ...string) SecretProvider {
	return func(ctx context.Context, ref string) (string, error) {
		cmd := exec.CommandContext(ctx, name, append(args, ref)...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%s %q: %s: %w", name, ref, strings.TrimSpace(stderr.String()), err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
