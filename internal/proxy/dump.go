package proxy

import (
	"bufio"
	"fmt"
	"io"
)

// Dump writes one block per proxy, in registry order, for crash and state dumps.
func (r *Registry) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, p := range r.proxies {
		prev, next := r.neighbors(i)
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "[proxy (addr:%p)]\n", p)
		fmt.Fprintf(bw, "  name . . . . . . . . . : '%s'\n", p.name)
		fmt.Fprintf(bw, "  type . . . . . . . . . : %d (%s)\n", p.Type(), p.Type())
		fmt.Fprintf(bw, "  ipv6 . . . . . . . . . : %d\n", p.options[FieldIPv6].Integer())
		fmt.Fprintf(bw, "  address. . . . . . . . : '%s'\n", p.Address())
		fmt.Fprintf(bw, "  port . . . . . . . . . : %d\n", p.Port())
		fmt.Fprintf(bw, "  username . . . . . . . : '%s'\n", p.Username())
		fmt.Fprintf(bw, "  password . . . . . . . : '%s'\n", p.Password())
		fmt.Fprintf(bw, "  prev_proxy . . . . . . : %p\n", prev)
		fmt.Fprintf(bw, "  next_proxy . . . . . . : %p\n", next)
	}
	return bw.Flush()
}
