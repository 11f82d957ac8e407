package qb

import (
	"reflect"

	"github.com/go-openapi/inflect"
)

// Tabler is implemented by models that name their table.
type Tabler interface {
	TableName() string
}

// TableName returns the table of model: the result of its TableName method,
// or the snake-cased plural of its type name, so User maps to "users" and
// BlogPost to "blog_posts".
func TableName(model any) string {
	if t, ok := model.(Tabler); ok {
		return t.TableName()
	}
	typ := reflect.TypeOf(model)
	for typ != nil && (typ.Kind() == reflect.Pointer || typ.Kind() == reflect.Slice) {
		typ = typ.Elem()
	}
	if typ == nil || typ.Name() == "" {
		return ""
	}
	return inflect.Pluralize(inflect.Underscore(typ.Name()))
}

// For returns a builder on the table of model.
//
//	qb.For(User{}).Where("active", "=", true).All(ctx)
func For(model any, opts ...BuilderOption) *Builder {
	return New(TableName(model), opts...)
}
