// Package opcua provides the OPC UA session layer for the industrial
// automation suite.
//
// The package wraps gopcua behind the Session interface: connect with a
// configurable security policy and mode, browse the address space, read and
// write node values, discover advertised security policies, and subscribe
// to data changes. The simulator package implements the same interface
// in-process, so everything built on Session (the HTTP gateway, the OPC UA
// input component, tests) runs identically against a live server or the
// embedded plant simulation.
//
// # Connecting
//
//	client, err := opcua.NewClient(opcua.Config{
//		Endpoint:       "opc.tcp://127.0.0.1:4840/",
//		SecurityPolicy: opcua.PolicyBasic256Sha256,
//		SecurityMode:   opcua.ModeSignAndEncrypt,
//		CertFile:       "/tmp/certs/client_cert.pem",
//		KeyFile:        "/tmp/certs/client_key.pem",
//	}, logger)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
// Connect discovers the server's endpoints and selects the one matching the
// configured policy and mode. Non-None policies require a client
// certificate; the certmanager package generates a compliant one.
//
// # Subscriptions
//
// A session carries at most one underlying subscription. Subscribe adds
// monitored items for new nodes (adding a node twice is a no-op) and data
// changes arrive on the Changes channel:
//
//	if err := client.Subscribe(ctx, []string{"ns=2;i=5"}, time.Second); err != nil {
//		return err
//	}
//	for change := range client.Changes() {
//		log.Printf("%s = %v", change.NodeID, change.Value)
//	}
//
// The change channel is bounded. When a consumer falls behind the oldest
// pending change is dropped, so a slow reader never stalls the server's
// publish cycle.
//
// # Writes
//
// Write reads the node's current value first and coerces the new value to
// the same Go type with CoerceValue, so JSON numbers land in the variant
// width the server expects.
package opcua
