package rpc

import (
	"testing"

	"github.com/rocketbitz/narpc-go/na"
	"github.com/rocketbitz/narpc-go/na/inproc"
)

// testRig wires a listening server class and a client class over one
// in-process fabric.
type testRig struct {
	fabric *inproc.Fabric

	serverNA  *inproc.Class
	server    *Class
	serverCtx *Context

	clientNA  *inproc.Class
	client    *Class
	clientCtx *Context

	serverAddr na.Address
}

func newTestRig(t *testing.T, opts ...inproc.Option) *testRig {
	t.Helper()

	rig := &testRig{fabric: inproc.NewFabric()}

	serverOpts := append([]inproc.Option{inproc.WithListening(true)}, opts...)
	serverNA, err := rig.fabric.NewClass("server", serverOpts...)
	if err != nil {
		t.Fatalf("server NewClass: %v", err)
	}
	rig.serverNA = serverNA

	clientNA, err := rig.fabric.NewClass("client", opts...)
	if err != nil {
		t.Fatalf("client NewClass: %v", err)
	}
	rig.clientNA = clientNA

	rig.server, err = Init(Config{NA: serverNA, NAContext: serverNA.NewContext(), Name: "server"})
	if err != nil {
		t.Fatalf("server Init: %v", err)
	}
	rig.serverCtx, err = rig.server.NewContext()
	if err != nil {
		t.Fatalf("server NewContext: %v", err)
	}

	rig.client, err = Init(Config{NA: clientNA, NAContext: clientNA.NewContext(), Name: "client"})
	if err != nil {
		t.Fatalf("client Init: %v", err)
	}
	rig.clientCtx, err = rig.client.NewContext()
	if err != nil {
		t.Fatalf("client NewContext: %v", err)
	}

	rig.serverAddr, err = rig.fabric.Lookup("server")
	if err != nil {
		t.Fatalf("Lookup server: %v", err)
	}

	t.Cleanup(func() {
		_ = rig.clientCtx.Destroy()
		_ = rig.serverCtx.Destroy()
		_ = rig.client.Finalize()
		_ = rig.server.Finalize()
		_ = rig.clientNA.Close()
		_ = rig.serverNA.Close()
	})
	return rig
}

// selfRig builds a single listening class used for loopback scenarios.
func selfRig(t *testing.T, opts ...inproc.Option) (*Class, *Context, na.Address) {
	t.Helper()

	fabric := inproc.NewFabric()
	naOpts := append([]inproc.Option{inproc.WithListening(true)}, opts...)
	naClass, err := fabric.NewClass("self", naOpts...)
	if err != nil {
		t.Fatalf("NewClass: %v", err)
	}

	class, err := Init(Config{NA: naClass, NAContext: naClass.NewContext(), Name: "self"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx, err := class.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	t.Cleanup(func() {
		_ = ctx.Destroy()
		_ = class.Finalize()
		_ = naClass.Close()
	})
	return class, ctx, naClass.Addr()
}
