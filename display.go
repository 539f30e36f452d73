package kdb

import (
	"fmt"
	"strings"
	"time"
)

func (m Month) String() string {
	return fmt.Sprintf("%04d.%02dm", 2000+int(m)/12, int(m)%12+1)
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (s Second) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(s)/3600, int(s)/60%60, int(s)%60)
}

func (t Time) String() string {
	ms := int(t)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

func (d Dict) String() string {
	return fmt.Sprintf("%v!%v", d.Key, d.Value)
}

func (t Table) String() string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("%s:%v", c, t.Data[i])
	}
	return "([] " + strings.Join(cols, "; ") + ")"
}

func (f Function) String() string {
	if f.Namespace == "" {
		return f.Body
	}
	return "." + f.Namespace + "." + f.Body
}

// scalar renders one payload element of the given vector type code.
func scalar(t int8, v interface{}) string {
	switch t {
	case KB:
		if v.(bool) {
			return "1"
		}
		return "0"
	case KG:
		return fmt.Sprintf("%02x", v.(byte))
	case KC:
		return string(v.(byte))
	case KS:
		return "`" + v.(string)
	case KP:
		return v.(time.Time).Format("2006.01.02D15:04:05.000000000")
	case KD:
		return v.(time.Time).Format("2006.01.02")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func vectorSuffix(t int8) string {
	switch t {
	case KH:
		return "h"
	case KI, KENUM:
		return "i"
	case KE:
		return "e"
	case KF:
		return "f"
	case KZ:
		return "z"
	case KB:
		return "b"
	default:
		return ""
	}
}

// String renders the value in q style: `1 2 3`, "`a`b`c",
// "([] a:1 2i; b:`x`y)". Used for logs and tests.
func (k *K) String() string {
	if k == nil {
		return "(nil)"
	}
	switch {
	case k.Type == -KS:
		return "`" + k.Data.(string)
	case k.Type == -KC:
		return fmt.Sprintf("%q", string(k.Data.(byte)))
	case k.Type == -KB:
		return scalar(KB, k.Data) + "b"
	case k.Type == -KG:
		return "0x" + scalar(KG, k.Data)
	case k.Type < 0 && k.Type > KERR:
		return scalar(-k.Type, k.Data) + vectorSuffix(-k.Type)
	}
	switch k.Type {
	case K0:
		parts := make([]string, 0, k.Len())
		for _, c := range k.Data.([]*K) {
			parts = append(parts, c.String())
		}
		return "(" + strings.Join(parts, ";") + ")"
	case KB:
		var b strings.Builder
		for _, x := range k.Data.([]bool) {
			b.WriteString(scalar(KB, x))
		}
		return b.String() + "b"
	case KG:
		var b strings.Builder
		b.WriteString("0x")
		for _, x := range k.Data.([]byte) {
			b.WriteString(scalar(KG, x))
		}
		return b.String()
	case KC:
		return fmt.Sprintf("%q", k.Data.(string))
	case KS:
		var b strings.Builder
		for _, s := range k.Data.([]string) {
			b.WriteString("`")
			b.WriteString(s)
		}
		return b.String()
	case XD, SD:
		return k.Data.(Dict).String()
	case XT:
		return k.Data.(Table).String()
	case KFUNC:
		return k.Data.(Function).String()
	case KERR:
		return "'" + k.Data.(error).Error()
	case KFUNCUP:
		if k.IsNull() {
			return "::"
		}
	}
	if k.vectorShaped() {
		n := k.Len()
		if n == 0 {
			return "()" + vectorSuffix(k.Type)
		}
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			e, _ := k.Elem(i)
			parts = append(parts, scalar(k.Type, e.Data))
		}
		return strings.Join(parts, " ") + vectorSuffix(k.Type)
	}
	return fmt.Sprintf("%v", k.Data)
}
