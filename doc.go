/*
Package gemini implements the Gemini protocol, client and server.

SendRequest issues a request with the default client. The callback runs
exactly once, on the request's own goroutine:

	id, err := gemini.SendRequest("gemini://example.com/", func(result gemini.Result, resp *gemini.Response) {
		if result != gemini.Ok {
			// handle failure
			return
		}
		fmt.Println(resp.GeminiStatus(), resp.Meta())
		os.Stdout.Write(resp.Body)
	}, gemini.WithTimeout(10*time.Second))
	if err != nil {
		// the URL was not usable; the callback will not run
	}

Get waits for the outcome instead:

	resp, err := gemini.Get("gemini://example.com/")

For control over client behavior, create a custom Client. Clients can
limit body sizes and media types, and decide which certificates to trust
with TrustCertificate; the tofu package implements trust on first use:

	var hosts tofu.KnownHosts
	err := hosts.Open("known_hosts")
	client := &gemini.Client{
		TrustCertificate: hosts.TOFU,
		Options: []gemini.RequestOption{
			gemini.WithMaxBodySize(1 << 20),
			gemini.WithAllowedMediaTypes("text/gemini"),
		},
	}

Responses use a generic status model numbered like web status codes;
ToGeneric and FromGeneric translate between it and Gemini statuses. The raw
Gemini status and meta a client received stay available through
Response.GeminiStatus and Response.Meta.

Server is a Gemini server. Handlers return the response to send:

	mux := &gemini.ServeMux{}
	mux.HandleFunc("/hello", func(ctx context.Context, r *gemini.Request) *gemini.Response {
		return gemini.Success("text/gemini", []byte("# Hello\n"))
	})
	mux.Handle("/", gemini.FileServer("/srv/gemini"))

	server, err := gemini.NewServer(":1965", "key.pem", "cert.pem", mux)
	if err != nil {
		// handle error
	}
	err = server.ListenAndServe()

Servers may select certificates by server name from a certificate.Store.
*/
package gemini
