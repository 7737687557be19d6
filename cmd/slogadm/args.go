package main

import (
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

// normalizeArgs moves the flags of the subcommand ahead of its operands,
// which is where the flag package looks for them. Two multi-value forms are
// folded into single flag values on the way:
//
//	-e A=1 B=2      becomes  -e A=1 -e B=2
//	-rp 0 1         becomes  -rp "0 1"
//
// Anything after "--" is left as operands.
func normalizeArgs(app *cli.App, args []string) []string {
	if len(args) < 2 {
		return args
	}

	// global flags come before the subcommand
	global := flagKinds(app.Flags)
	i := 1
	for i < len(args) && isFlagArg(args[i]) {
		name, inline := splitFlag(args[i])
		if isBool, ok := global[name]; ok && !isBool && !inline {
			i++
		}
		i++
	}
	if i >= len(args) {
		return args
	}

	cmd := app.Command(args[i])
	if cmd == nil {
		return args
	}
	kinds := flagKinds(cmd.Flags)

	rest := args[i+1:]
	var flags, operands []string
	for j := 0; j < len(rest); j++ {
		arg := rest[j]
		if arg == "--" {
			operands = append(operands, rest[j+1:]...)
			break
		}
		if !isFlagArg(arg) {
			operands = append(operands, arg)
			continue
		}

		flags = append(flags, arg)
		name, inline := splitFlag(arg)
		isBool, known := kinds[name]
		if !known || isBool || inline || j+1 >= len(rest) {
			continue
		}

		j++
		value := rest[j]
		switch name {
		case "e":
			flags = append(flags, value)
			for j+1 < len(rest) && isEnvOperand(rest[j+1]) {
				j++
				flags = append(flags, arg, rest[j])
			}
		case "rp":
			if isInt(value) && j+1 < len(rest) && isInt(rest[j+1]) {
				j++
				value += " " + rest[j]
			}
			flags = append(flags, value)
		default:
			flags = append(flags, value)
		}
	}

	out := make([]string, 0, len(args))
	out = append(out, args[:i+1]...)
	out = append(out, flags...)
	return append(out, operands...)
}

// flagKinds maps every name of every flag to whether it is boolean.
func flagKinds(flags []cli.Flag) map[string]bool {
	kinds := make(map[string]bool)
	for _, f := range flags {
		var isBool bool
		switch f.(type) {
		case cli.BoolFlag, cli.BoolTFlag:
			isBool = true
		}
		for _, name := range strings.Split(f.GetName(), ",") {
			kinds[strings.TrimSpace(name)] = isBool
		}
	}
	return kinds
}

func isFlagArg(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && !isInt(arg)
}

// splitFlag returns the name of a flag argument and whether it carries its
// value inline, as in --image=name.
func splitFlag(arg string) (string, bool) {
	name := strings.TrimLeft(arg, "-")
	if k := strings.IndexByte(name, '='); k >= 0 {
		return name[:k], true
	}
	return name, false
}

func isEnvOperand(arg string) bool {
	return !strings.HasPrefix(arg, "-") && strings.IndexByte(arg, '=') > 0
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
