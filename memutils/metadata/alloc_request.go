package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestTLSF indicates that the allocation request was sourced from metadata.TLSFBlockMetadata
	AllocationRequestTLSF AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestTLSF: "TLSF",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place a new allocation. It can be passed to BlockMetadata.Alloc to commit it.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free range the allocation will be carved from. After
	// Alloc succeeds it identifies the allocation itself.
	BlockAllocationHandle BlockAllocationHandle
	// Size is the number of bytes that will be handed to the consumer
	Size int
	// Offset is the offset of the allocation within the block
	Offset int
	// Type identifies the BlockMetadata implementation that generated this request
	Type AllocationRequestType
}
