// package models defines the data model for the playlist archiver
package models

// Record is one row of the run history. It is validated before every insert or update.
type Record interface {
	ID() string
	Validate() error
}

// Repository stores records of one type in the history database.
//
// List filters on column values; the "limit" criterion caps the number of rows, newest first.
type Repository[T Record] interface {
	Create(record T) error
	Get(id string) (T, error)
	Update(record T) error
	Finish(record T, err error) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}
