// Package httpclient talks to the gateway's chat completions endpoint.
//
// A [Client] posts one user message per call and reports the outcome as a
// [Completion]: status code, latency and the token count the gateway returned
// in usage.total_tokens.
//
//	c, err := httpclient.New(httpclient.Options{
//		BaseURL: "https://gateway.example.com",
//		Timeout: 30 * time.Second,
//		Auth:    auth.NewStaticTokenProvider(key),
//	})
//	res, err := c.Complete(ctx, httpclient.Request{Model: "gpt-4o-mini", Prompt: "hi"})
//
// Non-2xx responses are returned as [*HTTPError]. Use [IsTimeout] to tell a
// timed out call apart from other transport failures.
package httpclient
