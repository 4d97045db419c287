package domain

// Partition names an independent section of the durable store.
type Partition string

const (
	PartitionCart        Partition = "cart"
	PartitionOrders      Partition = "orders"
	PartitionProducts    Partition = "products"
	PartitionSyncQueue   Partition = "syncQueue"
	PartitionPreferences Partition = "preferences"
)

// AllPartitions lists every partition in the persisted layout.
func AllPartitions() []Partition {
	return []Partition{
		PartitionCart,
		PartitionOrders,
		PartitionProducts,
		PartitionSyncQueue,
		PartitionPreferences,
	}
}

// EntityPartitions lists the partitions holding cached server entities.
func EntityPartitions() []Partition {
	return []Partition{PartitionCart, PartitionOrders, PartitionProducts}
}

func (p Partition) Valid() bool {
	switch p {
	case PartitionCart, PartitionOrders, PartitionProducts, PartitionSyncQueue, PartitionPreferences:
		return true
	}
	return false
}

// IsEntity reports whether p holds cached server entities.
func (p Partition) IsEntity() bool {
	switch p {
	case PartitionCart, PartitionOrders, PartitionProducts:
		return true
	}
	return false
}

func (p Partition) String() string { return string(p) }
