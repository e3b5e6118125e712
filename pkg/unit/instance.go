/*
   Copyright The sysd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package unit

import "strings"

// InstanceOf returns the instance portion of an instantiated template unit
// name ("getty@tty1.service" -> "tty1"). A plain name or a bare template
// ("getty@.service") yields "".
func InstanceOf(name string) string {
	at := strings.Index(name, "@")
	if at < 0 {
		return ""
	}
	end := strings.LastIndex(name, ".")
	if end < 0 {
		end = len(name)
	}
	if at+1 >= end {
		return ""
	}
	return name[at+1 : end]
}

// TemplateOf returns the template file name for an instantiated unit name
// ("getty@tty1.service" -> "getty@.service"), or "" when the name carries
// no '@'.
func TemplateOf(name string) string {
	at := strings.Index(name, "@")
	if at < 0 {
		return ""
	}
	end := strings.LastIndex(name, ".")
	if end < 0 {
		return ""
	}
	return name[:at+1] + name[end:]
}

// PrefixOf returns the part of the name before '@', or the name without its
// suffix when it is not a template.
func PrefixOf(name string) string {
	if at := strings.Index(name, "@"); at >= 0 {
		return name[:at]
	}
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		return name[:dot]
	}
	return name
}

// Specifiers substitutes the common % specifiers into s for the given unit
// name and instance. Supported: %n %N %p %i %I %%. Unknown specifiers are
// left untouched.
func Specifiers(s, name, instance string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteString(name)
		case 'N':
			b.WriteString(strings.TrimSuffix(name, "."+string(mustKind(name))))
		case 'p':
			b.WriteString(PrefixOf(name))
		case 'i':
			b.WriteString(instance)
		case 'I':
			// %I is the unescaped instance; our instances carry no
			// escapes beyond '-' for '/'.
			b.WriteString(strings.ReplaceAll(instance, "-", "/"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func mustKind(name string) Kind {
	k, err := KindOf(name)
	if err != nil {
		return ""
	}
	return k
}
