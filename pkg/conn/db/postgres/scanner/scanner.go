package scanner

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type Queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// type-safe scanner for pgx.Rows
//
// # example
//
//	type eventRecord struct {
//		Id   int64  `sql:"id"`
//		Note string `sql:"note"`
//	}
//
//	func allEvents(ctx context.Context, conn pool.Conn) ([]eventRecord, error) {
//		return scanner.New[eventRecord]().QueryAll(
//			ctx, conn, `select "id", "note" from "transition_events"`,
//		)
//	}
//
// # mapping rule
//
// each column is scanned into
//
//  1. the field with tag `sql:"column_name"`,
//  2. or, the field named exactly as the column.
//
// Columns without a matching field are an error. Record structs in this
// repository tag every field, so rule 2 is a fallback for ad-hoc queries.
//
// Primitive T (string, integers, bool, ...), time.Time and []byte scan
// single-column result sets instead.
type Scanner[T any] interface {
	// scan all rows in pgx.Rows and convert to []T
	ScanAll(pgx.Rows) ([]T, error)

	// scan all rows in response of query.
	QueryAll(context.Context, Queryer, string, ...interface{}) ([]T, error)
}

type scanner[T any] struct {
	mapByTag       map[string]reflect.StructField
	mapByFieldName map[string]reflect.StructField
}

func New[T any]() Scanner[T] {

	tval := reflect.TypeOf(*new(T))

	// time.Time is a struct. test assignability before kind.
	if tval.AssignableTo(reflect.TypeOf(time.Time{})) || tval.AssignableTo(reflect.TypeOf([]byte{})) {
		return &singleColumnScanner[T]{}
	}
	if tval.Kind() != reflect.Struct {
		return &singleColumnScanner[T]{}
	}

	mapByTag := map[string]reflect.StructField{}
	mapByFieldName := map[string]reflect.StructField{}
	for i := 0; i < tval.NumField(); i++ {
		f := tval.Field(i)
		mapByFieldName[f.Name] = f
		if tag, ok := f.Tag.Lookup("sql"); ok {
			mapByTag[tag] = f
		}
	}

	return &scanner[T]{mapByTag: mapByTag, mapByFieldName: mapByFieldName}
}

func (s *scanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	sqlColumns := rows.FieldDescriptions()
	fields := make([]reflect.StructField, 0, len(sqlColumns))
	for _, fd := range sqlColumns {
		col := string(fd.Name)

		var field reflect.StructField
		if f, ok := s.mapByTag[col]; ok {
			field = f
		} else if f, ok := s.mapByFieldName[col]; ok {
			field = f
		} else {
			return nil, fmt.Errorf(
				`field for column "%s" is not found in type "%T"`,
				col, *new(T),
			)
		}
		fields = append(fields, field)
	}

	ret := make([]T, 0, rows.CommandTag().RowsAffected())
	for rows.Next() {
		elem := new(T)
		re := reflect.ValueOf(elem).Elem()

		fldPtr := make([]interface{}, len(fields))
		for nth, f := range fields {
			fldPtr[nth] = re.FieldByName(f.Name).Addr().Interface()
		}

		if err := rows.Scan(fldPtr...); err != nil {
			return nil, err
		}
		ret = append(ret, *elem)
	}
	return ret, nil
}

func (s *scanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...interface{}) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

type singleColumnScanner[T any] struct{}

func (s *singleColumnScanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {

	sqlColumns := rows.FieldDescriptions()
	if len(sqlColumns) != 1 {
		name := reflect.TypeOf(*new(T)).Name()
		return nil, fmt.Errorf(`too much columns for %s`, name)
	}

	ret := make([]T, 0, rows.CommandTag().RowsAffected())
	for rows.Next() {
		elem := new(T)
		field := reflect.ValueOf(elem).Elem()

		sqlValues, err := rows.Values()
		if err != nil {
			return nil, err
		}

		for nth, sqlv := range sqlValues {
			if _sqlv := reflect.ValueOf(sqlv); !_sqlv.CanConvert(field.Type()) {
				return nil, fmt.Errorf(
					`field "%s" (type: %s in sql, %T in golang) can not be convert to "%T"`,
					sqlColumns[nth].Name, pgOID2String(sqlColumns[nth].DataTypeOID), sqlv, *elem,
				)
			}
			field.Set(reflect.ValueOf(sqlv).Convert(field.Type()))
		}

		ret = append(ret, *elem)
	}
	return ret, nil
}

func (s *singleColumnScanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...interface{}) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

// names for the column types our tables use. Other OIDs fall back to the number.
func pgOID2String(oid uint32) string {
	switch oid {
	case pgtype.BoolOID:
		return "bool"
	case pgtype.Int8OID:
		return "int8"
	case pgtype.Int4OID:
		return "int4"
	case pgtype.TextOID:
		return "text"
	case pgtype.VarcharOID:
		return "varchar"
	case pgtype.TimestamptzOID:
		return "timestamptz"
	case pgtype.JSONBOID:
		return "jsonb"
	case pgtype.UnknownOID:
		return "unknown"
	}

	return fmt.Sprintf("undefined oid(%d)", oid)
}
