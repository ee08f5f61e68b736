// Command zss-call sends one request to a ZSS service and prints the reply
// payload as JSON.
//
//	zss-call -sid ping -verb ping -payload '"ping"'
//	zss-call -sid users -verb users/get -payload '{"id":1}' -H trace=abc -timeout 2s
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"zss/client"
	"zss/config"
	"zss/loadbalance"
	"zss/message"
	"zss/observability"
	"zss/registry"
	"zss/rpcerr"
)

func main() {
	var (
		sid     = flag.String("sid", "", "service id")
		verb    = flag.String("verb", "", "verb to call")
		payload = flag.String("payload", "null", "JSON payload")
		timeout = flag.Duration("timeout", 0, "call timeout (default from ZSS_TIMEOUT_MS)")
		headers = message.Values{}
	)
	flag.Func("H", "request header key=value, repeatable", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("header %q is not key=value", s)
		}
		headers[k] = v
		return nil
	})
	flag.Parse()

	if *sid == "" || *verb == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.SetOutput(os.Stderr)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	var body any
	if err := sonic.UnmarshalString(*payload, &body); err != nil {
		logger.WithError(err).Fatal("payload is not valid JSON")
	}

	opts := []client.Option{client.WithLogger(logger)}
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to etcd")
		}
		defer etcd.Close()
		opts = append(opts, client.WithRegistry(etcd, loadbalance.New("ConsistentHash")))
	}

	c, err := client.New(*sid, cfg, opts...)
	if err != nil {
		logger.WithError(err).Fatal("failed to create client")
	}

	callOpts := []client.CallOption{client.WithHeaders(headers)}
	if *timeout > 0 {
		callOpts = append(callOpts, client.WithTimeout(*timeout))
	}

	result, err := c.Call(context.Background(), *verb, body, callOpts...)
	if err != nil {
		if rerr, ok := rpcerr.As(err); ok {
			out, _ := sonic.MarshalString(rerr.Payload())
			fmt.Println(out)
			os.Exit(1)
		}
		logger.WithError(err).Error("call failed")
		os.Exit(1)
	}

	out, err := sonic.MarshalString(toJSON(result))
	if err != nil {
		logger.WithError(err).Fatal("reply is not representable as JSON")
	}
	fmt.Println(out)
}

// toJSON converts decoded values into shapes the JSON encoder accepts.
func toJSON(v any) any {
	switch val := v.(type) {
	case message.Values:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = toJSON(item)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSON(item)
		}
		return out
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	}
	return v
}
