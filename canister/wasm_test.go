package canister

// Minimal binary encoder for the test canisters below. Only the sections the
// tests need are supported.

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

type funcType struct {
	params  []byte
	results []byte
}

type testImport struct {
	module string
	name   string
	typ    int
}

type testFunc struct {
	export string
	body   []byte
	typ    int
}

type dataSegment struct {
	bytes  []byte
	offset int32
}

type testModule struct {
	types   []funcType
	imports []testImport
	funcs   []testFunc
	data    []dataSegment
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Instructions.
func i32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }
func callFn(idx int) []byte   { return append([]byte{0x10}, uleb(uint64(idx))...) }

var (
	opDrop    = []byte{0x1a}
	opI32Load = []byte{0x28, 0x02, 0x00}
)

func (m testModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	for _, t := range m.types {
		types = append(types, concat([]byte{0x60}, vec(splitBytes(t.params)...), vec(splitBytes(t.results)...)))
	}
	out = append(out, section(1, vec(types...))...)

	if len(m.imports) > 0 {
		var imports [][]byte
		for _, imp := range m.imports {
			imports = append(imports, concat(wasmName(imp.module), wasmName(imp.name), []byte{0x00}, uleb(uint64(imp.typ))))
		}
		out = append(out, section(2, vec(imports...))...)
	}

	var funcs, exports, codes [][]byte
	for i, f := range m.funcs {
		funcs = append(funcs, uleb(uint64(f.typ)))
		if f.export != "" {
			exports = append(exports, concat(wasmName(f.export), []byte{0x00}, uleb(uint64(len(m.imports)+i))))
		}
		body := concat([]byte{0x00}, f.body, []byte{0x0b})
		codes = append(codes, concat(uleb(uint64(len(body))), body))
	}
	exports = append(exports, concat(wasmName("memory"), []byte{0x02, 0x00}))

	out = append(out, section(3, vec(funcs...))...)
	out = append(out, section(5, vec([]byte{0x00, 0x01}))...)
	out = append(out, section(7, vec(exports...))...)
	out = append(out, section(10, vec(codes...))...)

	if len(m.data) > 0 {
		var segs [][]byte
		for _, d := range m.data {
			segs = append(segs, concat([]byte{0x00}, i32Const(d.offset), []byte{0x0b}, wasmName(string(d.bytes))))
		}
		out = append(out, section(11, vec(segs...))...)
	}
	return out
}

func splitBytes(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i := range b {
		out[i] = b[i : i+1]
	}
	return out
}

// Type indices used by probeCanister.
const (
	typeVoid = iota
	typePtrLen
	typeRetI32
	typeCopy
	typeFdWrite
	typePathOpen
	typeFdClose
)

// Imported function indices used by probeCanister.
const (
	fnDebugPrint = iota
	fnArgSize
	fnArgCopy
	fnReplyAppend
	fnReply
	fnTrap
	fnFdWrite
	fnPathOpen
	fnFdClose
)

// Guest memory layout.
const (
	addrHello = 0
	addrBoom  = 16
	addrProbe = 32
	addrIov   = 48
	addrText  = 64
	addrPath  = 128
	addrFd    = 160
	addrArg   = 1024
)

var probeTypes = []funcType{
	typeVoid:     {},
	typePtrLen:   {params: []byte{valI32, valI32}},
	typeRetI32:   {results: []byte{valI32}},
	typeCopy:     {params: []byte{valI32, valI32, valI32}},
	typeFdWrite:  {params: []byte{valI32, valI32, valI32, valI32}, results: []byte{valI32}},
	typePathOpen: {params: []byte{valI32, valI32, valI32, valI32, valI32, valI64, valI64, valI32, valI32}, results: []byte{valI32}},
	typeFdClose:  {params: []byte{valI32}, results: []byte{valI32}},
}

// probeCanister exercises every ic0 primitive and a few WASI calls.
func probeCanister() []byte {
	writeText := concat(
		i32Const(addrIov), i32Const(1), i32Const(addrIov+8), callFn(fnFdWrite), opDrop,
	)
	m := testModule{
		types: probeTypes,
		imports: []testImport{
			{SystemModule, "debug_print", typePtrLen},
			{SystemModule, "msg_arg_data_size", typeRetI32},
			{SystemModule, "msg_arg_data_copy", typeCopy},
			{SystemModule, "msg_reply_data_append", typePtrLen},
			{SystemModule, "msg_reply", typeVoid},
			{SystemModule, "trap", typePtrLen},
			{"wasi_snapshot_preview1", "fd_write", typeFdWrite},
			{"wasi_snapshot_preview1", "path_open", typePathOpen},
			{"wasi_snapshot_preview1", "fd_close", typeFdClose},
		},
		funcs: []testFunc{
			{export: "canister_query hello", typ: typeVoid, body: concat(
				i32Const(addrHello), i32Const(5), callFn(fnReplyAppend), callFn(fnReply),
			)},
			{export: "canister_update echo", typ: typeVoid, body: concat(
				i32Const(addrArg), i32Const(0), callFn(fnArgSize), callFn(fnArgCopy),
				i32Const(addrArg), callFn(fnArgSize), callFn(fnReplyAppend), callFn(fnReply),
			)},
			{export: "canister_query noreply", typ: typeVoid},
			{export: "canister_update boom", typ: typeVoid, body: concat(
				i32Const(addrBoom), i32Const(4), callFn(fnTrap),
			)},
			{export: "canister_query log", typ: typeVoid, body: concat(
				i32Const(addrProbe), i32Const(5), callFn(fnDebugPrint), callFn(fnReply),
			)},
			{export: "canister_update twice", typ: typeVoid, body: concat(
				callFn(fnReply), callFn(fnReply),
			)},
			{export: "canister_query oob", typ: typeVoid, body: concat(
				i32Const(0), i32Const(0x20000), callFn(fnDebugPrint), callFn(fnReply),
			)},
			{export: "canister_query print", typ: typeVoid, body: concat(
				i32Const(1), writeText, callFn(fnReply),
			)},
			{export: "canister_update save", typ: typeVoid, body: concat(
				// path_open(3, 0, path, len, O_CREAT|O_TRUNC, FD_WRITE, 0, 0, &fd)
				i32Const(3), i32Const(0), i32Const(addrPath), i32Const(8), i32Const(1|8),
				i64Const(64), i64Const(0), i32Const(0), i32Const(addrFd), callFn(fnPathOpen), opDrop,
				i32Const(addrFd), opI32Load, writeText,
				i32Const(addrFd), opI32Load, callFn(fnFdClose), opDrop,
				callFn(fnReply),
			)},
		},
		data: []dataSegment{
			{offset: addrHello, bytes: []byte("hello")},
			{offset: addrBoom, bytes: []byte("boom")},
			{offset: addrProbe, bytes: []byte("probe")},
			{offset: addrIov, bytes: []byte{addrText, 0, 0, 0, 8, 0, 0, 0}},
			{offset: addrText, bytes: []byte("hi wasi\n")},
			{offset: addrPath, bytes: []byte("note.txt")},
		},
	}
	return m.encode()
}

// unlinkableCanister imports a system function the runtime does not provide.
func unlinkableCanister() []byte {
	m := testModule{
		types: []funcType{{}},
		imports: []testImport{
			{SystemModule, "msg_reply", 0},
			{SystemModule, "stable64_read", 0},
		},
		funcs: []testFunc{
			{export: "canister_query noop", typ: 0},
		},
	}
	return m.encode()
}

// environCanister replies with what WASI reports for the environment, the
// arguments and random_get. Its copyall method asks msg_arg_data_copy for
// nearly 4 GiB.
func environCanister() []byte {
	const (
		tVoid = iota
		tPtrLen
		tPtrPtr
		tCopy
	)
	const (
		fReplyAppend = iota
		fReply
		fEnvironSizes
		fEnviron
		fArgsSizes
		fArgs
		fRandom
		fArgCopy
	)
	const (
		addrCount = 0
		addrSize  = 4
		addrRand  = 512
		addrPtrs  = 64
		addrBuf   = 1024
	)

	// list replies with the NUL-separated buffer filled by a sizes/get pair.
	list := func(sizes, get int) []byte {
		return concat(
			i32Const(addrCount), i32Const(addrSize), callFn(sizes), opDrop,
			i32Const(addrPtrs), i32Const(addrBuf), callFn(get), opDrop,
			i32Const(addrBuf), i32Const(addrSize), opI32Load, callFn(fReplyAppend), callFn(fReply),
		)
	}

	m := testModule{
		types: []funcType{
			tVoid:   {},
			tPtrLen: {params: []byte{valI32, valI32}},
			tPtrPtr: {params: []byte{valI32, valI32}, results: []byte{valI32}},
			tCopy:   {params: []byte{valI32, valI32, valI32}},
		},
		imports: []testImport{
			{SystemModule, "msg_reply_data_append", tPtrLen},
			{SystemModule, "msg_reply", tVoid},
			{"wasi_snapshot_preview1", "environ_sizes_get", tPtrPtr},
			{"wasi_snapshot_preview1", "environ_get", tPtrPtr},
			{"wasi_snapshot_preview1", "args_sizes_get", tPtrPtr},
			{"wasi_snapshot_preview1", "args_get", tPtrPtr},
			{"wasi_snapshot_preview1", "random_get", tPtrPtr},
			{SystemModule, "msg_arg_data_copy", tCopy},
		},
		funcs: []testFunc{
			{export: "canister_query env", typ: tVoid, body: list(fEnvironSizes, fEnviron)},
			{export: "canister_query args", typ: tVoid, body: list(fArgsSizes, fArgs)},
			{export: "canister_update rand", typ: tVoid, body: concat(
				i32Const(addrRand), i32Const(16), callFn(fRandom), opDrop,
				i32Const(addrRand), i32Const(16), callFn(fReplyAppend), callFn(fReply),
			)},
			{export: "canister_update copyall", typ: tVoid, body: concat(
				i32Const(0), i32Const(0), i32Const(-16), callFn(fArgCopy), callFn(fReply),
			)},
		},
	}
	return m.encode()
}
