// Package intercept captures HTTP traffic flowing through an
// http.RoundTripper.
//
// A Transport wraps the RoundTripper an application already uses. While a
// Hook is registered on it, every request the hook accepts is recorded as an
// exchange.Exchange in the hook's store:
//
//	store := exchangelog.NewMemoryStore(exchangelog.Options{})
//	hook, _ := intercept.NewHook(intercept.Options{Store: store})
//	tr := intercept.NewTransport(http.DefaultTransport)
//	_ = tr.Register(hook)
//	client := &http.Client{Transport: tr}
//
// Capture is passive. The request handed to the base transport is a clone
// of the caller's request whose body is tapped as it is sent, and the
// response body is tapped as the caller reads it. Nothing is buffered ahead
// of the caller, so streaming and backpressure behave exactly as without
// the hook. Errors from the base transport reach the caller unchanged.
//
// A fault inside the capture path abandons capture of that one exchange,
// marking it failed with exchange.CodeCapture. The request itself always
// proceeds.
package intercept
