package gemini

import (
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gemwire/gemini/certificate"
)

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestRequestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	cert, err := certificate.Create(certificate.ForHosts(time.Hour, "127.0.0.1"))
	require.NoError(t, err)
	s := &Server{
		Addr:    "127.0.0.1:0",
		Handler: StatusHandler(StatusNotFound, "Nope"),
		Logger:  testr.New(t),
		Tracer:  tracer,
	}
	s.SetCertificate(cert)
	ln, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	addr := ln.String()

	c := newTestClient(t)
	c.Tracer = tracer
	o := send(t, c, "gemini://"+addr+"/x")
	require.Equal(t, Ok, o.result)

	c.TrustCertificate = func(string, *x509.Certificate) error { return errors.New("untrusted") }
	o = send(t, c, "gemini://"+addr+"/x")
	require.Equal(t, InvalidCertificate, o.result)

	require.Eventually(t, func() bool {
		var clients int
		for _, span := range recorder.Ended() {
			if span.Name() == "gemini.request" {
				clients++
			}
		}
		return clients == 2
	}, 2*time.Second, 10*time.Millisecond)

	var ok, failed, served int
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "gemini.request":
			if attr(span, "gemini.result").AsString() == "Ok" {
				ok++
				require.EqualValues(t, 51, attr(span, "gemini.status").AsInt64())
			} else {
				failed++
				require.Equal(t, codes.Error, span.Status().Code)
			}
		case "gemini.serve":
			served++
			require.Equal(t, "/x", attr(span, "url.path").AsString())
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
	require.GreaterOrEqual(t, served, 1)
}
