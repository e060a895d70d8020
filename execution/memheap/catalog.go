package memheap

import (
	"sync"

	"github.com/pkg/errors"

	"coredb/types"
)

var (
	ErrTableNotFound = errors.New("memheap: table not found")
	ErrIndexNotFound = errors.New("memheap: index not found")
)

// Catalog is a map-backed types.Catalog: register tables and indexes
// up front, then resolve them by name or oid the way a real catalog
// would after parsing DDL. Grounded on storage_engine/catalog's
// name->metadata maps, minus its JSON persistence to disk.
type Catalog struct {
	mu          sync.RWMutex
	tablesByOID map[types.TableOID]*types.TableInfo
	tablesByName map[string]*types.TableInfo
	indexesByOID map[types.IndexOID]*types.IndexInfo
	indexesByTable map[string][]*types.IndexInfo
	nextTableOID types.TableOID
	nextIndexOID types.IndexOID
}

func NewCatalog() *Catalog {
	return &Catalog{
		tablesByOID:    make(map[types.TableOID]*types.TableInfo),
		tablesByName:   make(map[string]*types.TableInfo),
		indexesByOID:   make(map[types.IndexOID]*types.IndexInfo),
		indexesByTable: make(map[string][]*types.IndexInfo),
	}
}

// CreateTable registers a new table backed by a fresh Heap and
// returns its TableInfo, whose OID is the assigned oid.
func (c *Catalog) CreateTable(name string, schema *types.Schema) *types.TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTableOID++
	oid := c.nextTableOID
	info := &types.TableInfo{
		OID:    oid,
		Name:   name,
		Schema: schema,
		Heap:   NewHeap(int64(oid)),
	}
	c.tablesByOID[oid] = info
	c.tablesByName[name] = info
	return info
}

// CreateIndex registers tree against table under name, returning its
// IndexInfo.
func (c *Catalog) CreateIndex(name, tableName string, keyExpr func(types.Tuple, *types.Schema) []byte, tree types.BPlusTreeIndex) *types.IndexInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextIndexOID++
	oid := c.nextIndexOID
	info := &types.IndexInfo{
		OID:       oid,
		Name:      name,
		TableName: tableName,
		KeyExpr:   keyExpr,
		Tree:      tree,
	}
	c.indexesByOID[oid] = info
	c.indexesByTable[tableName] = append(c.indexesByTable[tableName], info)
	return info
}

func (c *Catalog) GetTable(oid types.TableOID) (*types.TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tablesByOID[oid]
	if !ok {
		return nil, ErrTableNotFound
	}
	return info, nil
}

func (c *Catalog) GetTableByName(name string) (*types.TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tablesByName[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return info, nil
}

func (c *Catalog) GetIndex(oid types.IndexOID) (*types.IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.indexesByOID[oid]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return info, nil
}

func (c *Catalog) GetTableIndexes(tableName string) ([]*types.IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexesByTable[tableName], nil
}
