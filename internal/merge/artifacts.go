package merge

// Artifact names follow one contract so independent runs can find each
// other's output:
//
//	{stem}_{chunk}_ai_{part}.md   one prompt part of one chunk
//	{stem}_{chunk}_ai.md          all parts of one chunk
//	{stem}_ai.md                  the merged document
//
// The chunk segment is dropped when a plan has a single chunk and the part
// segment when only one prompt part is used.

// PartArtifact names the output of one prompt part for a chunk.
func PartArtifact(stem, chunkID, part string, singleChunk, singlePart bool) string {
	base := ChunkArtifactBase(stem, chunkID, singleChunk)
	if singlePart {
		return base + ".md"
	}
	return base + "_" + part + ".md"
}

// ChunkArtifact names the fused output for one chunk.
func ChunkArtifact(stem, chunkID string, singleChunk bool) string {
	return ChunkArtifactBase(stem, chunkID, singleChunk) + ".md"
}

// ChunkArtifactBase is the chunk artifact name without extension.
func ChunkArtifactBase(stem, chunkID string, singleChunk bool) string {
	if singleChunk {
		return stem + "_ai"
	}
	return stem + "_" + chunkID + "_ai"
}

// DocumentArtifact names the merged document.
func DocumentArtifact(stem string) string {
	return stem + "_ai.md"
}

// PlanArtifact names the serialized plan for a document.
func PlanArtifact(stem string) string {
	return stem + "_chunks.json"
}

// MapArtifact names the chunk map report for a document.
func MapArtifact(stem string) string {
	return stem + "_chunk_map.md"
}

// ChunkInputArtifact names the rendered input text of one chunk.
func ChunkInputArtifact(stem, chunkID string) string {
	return stem + "_" + chunkID + ".md"
}
