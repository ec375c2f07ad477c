// Package dynamotest provides an in-memory stand-in for the DynamoDB client.
//
// It understands just enough of the expression language for the stores in this
// module: SET update expressions, equality key conditions, and condition
// expressions built from attribute_exists, attribute_not_exists and "=" joined
// by OR.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type schema struct {
	pk string
	sk string
}

// Fake is a concurrency-safe in-memory DynamoDB. Create tables before use.
type Fake struct {
	mu      sync.Mutex
	schemas map[string]schema
	tables  map[string]map[string]map[string]types.AttributeValue
	calls   map[string]int
	errs    map[string]error

	// PageSize, when > 0, paginates Scan and Query results.
	PageSize int

	// AfterGet runs (outside the lock) after every successful GetItem.
	AfterGet func(table string, key map[string]types.AttributeValue)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		schemas: map[string]schema{},
		tables:  map[string]map[string]map[string]types.AttributeValue{},
		calls:   map[string]int{},
		errs:    map[string]error{},
	}
}

// CreateTable registers table with partition key pk and an optional sort key.
func (f *Fake) CreateTable(table, pk string, sk ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := schema{pk: pk}
	if len(sk) > 0 {
		s.sk = sk[0]
	}
	f.schemas[table] = s
	f.tables[table] = map[string]map[string]types.AttributeValue{}
}

// FailWith makes every subsequent call to op (e.g. "PutItem") return err. A nil err clears it.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed stores item directly, bypassing conditions.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = copyItem(item)
}

// Item returns a copy of the stored item for the given key values, or nil.
func (f *Fake) Item(table string, keyValues ...string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.tables[table][strings.Join(keyValues, "|")]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports the number of items in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	if err := f.begin("GetItem"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	table := deref(in.TableName)
	k, err := f.keyOf(table, in.Key)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	item, ok := f.tables[table][k]
	out := &dyn.GetItemOutput{}
	if ok {
		out.Item = copyItem(item)
	}
	hook := f.AfterGet
	f.mu.Unlock()

	if hook != nil {
		hook(table, in.Key)
	}
	return out, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	k, err := f.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][k]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: ptr("The conditional request failed")}
		}
	}
	f.tables[table][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	k, err := f.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][k]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: ptr("The conditional request failed")}
		}
	}

	item := copyItem(existing)
	if item == nil {
		item = copyItem(in.Key)
	}
	if in.UpdateExpression != nil {
		expr := strings.TrimSpace(*in.UpdateExpression)
		if !strings.HasPrefix(expr, "SET ") {
			return nil, fmt.Errorf("dynamotest: unsupported update expression %q", expr)
		}
		for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
			lhs, rhs, ok := strings.Cut(clause, "=")
			if !ok {
				return nil, fmt.Errorf("dynamotest: bad SET clause %q", clause)
			}
			name := resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames)
			v, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
			if !ok {
				return nil, fmt.Errorf("dynamotest: missing value %q", strings.TrimSpace(rhs))
			}
			item[name] = v
		}
	}
	f.tables[table][k] = item

	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	if _, ok := f.schemas[table]; !ok {
		return nil, fmt.Errorf("dynamotest: no table %q", table)
	}
	lhs, rhs, ok := strings.Cut(deref(in.KeyConditionExpression), "=")
	if !ok {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", deref(in.KeyConditionExpression))
	}
	name := resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames)
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %q", strings.TrimSpace(rhs))
	}

	var matched []string
	for _, k := range f.sortedKeys(table) {
		if got, ok := f.tables[table][k][name]; ok && reflect.DeepEqual(got, want) {
			matched = append(matched, k)
		}
	}
	items, last := f.page(table, matched, in.ExclusiveStartKey)
	return &dyn.QueryOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: last}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	if _, ok := f.schemas[table]; !ok {
		return nil, fmt.Errorf("dynamotest: no table %q", table)
	}
	items, last := f.page(table, f.sortedKeys(table), in.ExclusiveStartKey)
	return &dyn.ScanOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: last}, nil
}

// page slices keys starting after start, honouring PageSize.
func (f *Fake) page(table string, keys []string, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	from := 0
	if len(start) > 0 {
		sk, _ := f.keyOf(table, start)
		for i, k := range keys {
			if k == sk {
				from = i + 1
				break
			}
		}
	}
	to := len(keys)
	if f.PageSize > 0 && from+f.PageSize < to {
		to = from + f.PageSize
	}

	items := make([]map[string]types.AttributeValue, 0, to-from)
	for _, k := range keys[from:to] {
		items = append(items, copyItem(f.tables[table][k]))
	}
	var last map[string]types.AttributeValue
	if to < len(keys) {
		s := f.schemas[table]
		item := f.tables[table][keys[to-1]]
		last = map[string]types.AttributeValue{s.pk: item[s.pk]}
		if s.sk != "" {
			last[s.sk] = item[s.sk]
		}
	}
	return items, last
}

func (f *Fake) sortedKeys(table string) []string {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *Fake) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	s, ok := f.schemas[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: no table %q", table)
	}
	pk, ok := scalar(item[s.pk])
	if !ok {
		return "", fmt.Errorf("dynamotest: missing key attribute %q", s.pk)
	}
	if s.sk == "" {
		return pk, nil
	}
	sk, ok := scalar(item[s.sk])
	if !ok {
		return "", fmt.Errorf("dynamotest: missing key attribute %q", s.sk)
	}
	return pk + "|" + sk, nil
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, term := range strings.Split(expr, " OR ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_not_exists("):
			name := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"), names)
			if _, ok := item[name]; !ok {
				return true, nil
			}
		case strings.HasPrefix(term, "attribute_exists("):
			name := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"), names)
			if _, ok := item[name]; ok {
				return true, nil
			}
		default:
			lhs, rhs, ok := strings.Cut(term, "=")
			if !ok {
				return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
			}
			want, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return false, errors.New("dynamotest: missing condition value " + strings.TrimSpace(rhs))
			}
			got, ok := item[resolveName(strings.TrimSpace(lhs), names)]
			if ok && reflect.DeepEqual(got, want) {
				return true, nil
			}
		}
	}
	return false, nil
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func scalar(av types.AttributeValue) (string, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		return v.Value, true
	}
	return "", false
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string { return &s }
