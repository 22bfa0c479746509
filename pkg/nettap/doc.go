// Package nettap is the entry point for capturing an application's outbound
// HTTP traffic.
//
// A Controller owns the capture hook, the exchange log and the on-disk
// artifacts of one capture session:
//
//	ctrl, err := nettap.New(nettap.Options{})
//	if err != nil {
//	    return err
//	}
//	ctrl.Attach(http.DefaultClient)
//	ctrl.Ignore("telemetry.example.com")
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Stop(ctx)
//
//	// ... application traffic ...
//
//	for _, ex := range ctrl.Store().All() {
//	    fmt.Println(ex.Request.Method, ex.Request.URL, ex.State)
//	}
//
// Start and Stop both clear the exchange log and remove artifacts left by
// earlier sessions, so every session starts empty.
package nettap
