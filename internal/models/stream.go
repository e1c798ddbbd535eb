package models

// ChunkKind discriminates the three wire events a stream can carry.
type ChunkKind int

const (
	ChunkContent ChunkKind = iota
	ChunkDone
	ChunkError
)

// StreamChunk is the normalized wire unit relayed to the client. Exactly
// one of ChunkDone or ChunkError terminates every stream.
type StreamChunk struct {
	Kind    ChunkKind
	Content string
	Err     string
}

func ContentChunk(delta string) StreamChunk {
	return StreamChunk{Kind: ChunkContent, Content: delta}
}

func DoneChunk() StreamChunk {
	return StreamChunk{Kind: ChunkDone}
}

func ErrorChunk(msg string) StreamChunk {
	return StreamChunk{Kind: ChunkError, Err: msg}
}
