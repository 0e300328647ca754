package lua

import (
	"fmt"
	"reflect"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"
)

func (rt *Runtime) toLuaValue(src interface{}) lua.LValue {
	if src == nil {
		return lua.LNil
	}
	switch v := src.(type) {
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	}
	srcVal := reflect.ValueOf(src)
	switch srcVal.Kind() {
	case reflect.Map:
		dst := rt.L.NewTable()
		for _, key := range srcVal.MapKeys() {
			dst.RawSet(luar.New(rt.L, key.Interface()), rt.toLuaValue(srcVal.MapIndex(key).Interface()))
		}
		return dst
	case reflect.Slice:
		dst := rt.L.NewTable()
		for i := 0; i < srcVal.Len(); i++ {
			dst.Append(rt.toLuaValue(srcVal.Index(i).Interface()))
		}
		return dst
	default:
		return luar.New(rt.L, src)
	}
}

// toGoValue keeps table keys as written so exported maps round-trip through
// ToValue unchanged.
func (rt *Runtime) toGoValue(src lua.LValue) interface{} {
	switch v := src.(type) {
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		if o := rt.objects[v]; o != nil && o.hasData {
			return o.data
		}
		maxn := v.MaxN()
		if maxn == 0 {
			ret := make(map[string]interface{})
			v.ForEach(func(key, value lua.LValue) {
				ret[fmt.Sprint(rt.toGoValue(key))] = rt.toGoValue(value)
			})
			return ret
		}
		ret := make([]interface{}, 0, maxn)
		for i := 1; i <= maxn; i++ {
			ret = append(ret, rt.toGoValue(v.RawGetInt(i)))
		}
		return ret
	case *lua.LUserData:
		if v == rt.null {
			return nil
		}
		return v.Value
	default:
		return gluamapper.ToGoValue(src, gluamapper.Option{NameFunc: gluamapper.Id})
	}
}
