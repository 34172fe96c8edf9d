package disk

import (
	gdisk "github.com/tchajed/goose/machine/disk"
)

type machineDisk struct {
	d gdisk.Disk
}

// FromMachine adapts a goose machine disk, which panics instead of returning
// errors, to Disk.
func FromMachine(d gdisk.Disk) Disk {
	return machineDisk{d: d}
}

func (m machineDisk) ReadTo(a uint64, b Block) error {
	if err := checkBlock(a, m.d.Size(), b); err != nil {
		return err
	}
	copy(b, m.d.Read(a))
	return nil
}

func (m machineDisk) Read(a uint64) (Block, error) {
	b := make(Block, BlockSize)
	err := m.ReadTo(a, b)
	return b, err
}

func (m machineDisk) Write(a uint64, v Block) error {
	if err := checkBlock(a, m.d.Size(), v); err != nil {
		return err
	}
	m.d.Write(a, v)
	return nil
}

func (m machineDisk) Size() (uint64, error) {
	return m.d.Size(), nil
}

func (m machineDisk) Barrier() error {
	m.d.Barrier()
	return nil
}

func (m machineDisk) Close() error {
	m.d.Close()
	return nil
}
