package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nwithan8/nettools"
	"github.com/nwithan8/nettools/internal/config"
)

// RequestCommand sends one request built from -p key=value pairs.
func RequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request METHOD ENDPOINT",
		Short: "Send one request and print the decoded JSON response",
		Example: `  nettools request GET /widgets -u https://api.example.com -p owner=me -p page.limit=10
  nettools request POST /widgets -p name=gear -p size=3 --root data`,
		Args: cobra.ExactArgs(2),
		RunE: runRequest,
	}

	flags := cmd.Flags()
	flags.StringArrayP("param", "p", nil, "Parameter as key=value; dotted keys nest, JSON values are decoded")
	flags.String("root", "", "Dotted path of the response element to print")
	flags.Bool("no-content", false, "Expect no response body and print only whether the call succeeded")

	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}

	client, err := nettools.New(cfg.BaseURL, cfg.Options(cmd.ErrOrStderr())...)
	if err != nil {
		return err
	}
	defer client.Close()

	method, endpoint := strings.ToUpper(args[0]), args[1]
	out := cmd.OutOrStdout()

	if noContent, _ := cmd.Flags().GetBool("no-content"); noContent {
		ok, err := client.Call(cmd.Context(), method, endpoint, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ok)
		return nil
	}

	var opts []nettools.CallOption
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		opts = append(opts, nettools.RootElement(strings.Split(root, ".")...))
	}

	raw, err := nettools.Do[json.RawMessage](cmd.Context(), client, method, endpoint, params, opts...)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		_, err = out.Write(raw)
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}

// parseParams turns key=value pairs into raw parameters. Dotted keys nest:
// page.limit=10 becomes {"page": {"limit": 10}}. A key that is both a value
// and the prefix of a dotted key is rejected.
func parseParams(pairs []string) (nettools.Raw, error) {
	params := nettools.Raw{}
	leaves := make(map[string]bool)
	branches := make(map[string]string)

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, newUsageError(fmt.Sprintf("invalid parameter %q: want key=value", pair))
		}
		segments := strings.Split(key, ".")
		if slices.Contains(segments, "") {
			return nil, newUsageError(fmt.Sprintf("invalid parameter %q: empty key segment", pair))
		}

		if leaves[key] {
			return nil, newUsageError(fmt.Sprintf("parameter %q given more than once", key))
		}
		if other, ok := branches[key]; ok {
			return nil, newUsageError(fmt.Sprintf("parameter %q conflicts with %q", key, other))
		}
		for i := 1; i < len(segments); i++ {
			prefix := strings.Join(segments[:i], ".")
			if leaves[prefix] {
				return nil, newUsageError(fmt.Sprintf("parameter %q conflicts with %q", prefix, key))
			}
			if _, ok := branches[prefix]; !ok {
				branches[prefix] = key
			}
		}
		leaves[key] = true

		node := map[string]any(params)
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segments[len(segments)-1]] = parseValue(value)
	}

	return params, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
