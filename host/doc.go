// Package host models the boundary between a canister and the runtime that
// invokes it: debug output, access to the inbound argument, and the reply.
//
// A Call owns the state of one inbound message. It enforces that exactly one
// of Reply or Reject commits the response; any later append or commit fails
// with an already-committed error.
//
//	call := host.NewCall("greet", []byte("world"))
//	arg, err := host.ReadArg(call, host.DefaultMaxArgSize)
//	call.ReplyDataAppend([]byte("Hello, " + string(arg)))
//	call.Reply()
//	resp := call.Response() // StatusReplied, "Hello, world"
package host
