// Package workdemo burns CPU in a few recognizable call shapes so that a CPU
// profile of it has a plain chain and a recursion cycle to look at.
package workdemo

// DefaultAmount takes a few seconds per stage on a laptop.
const DefaultAmount = 100000000

// Root runs the chain and then the recursive pair.
func Root(amount int) int {
	count := CallStackOne(amount, 0)
	return Ping(amount/8, 8, count)
}

func spin(amount, count int) int {
	for i := 0; i < amount; i++ {
		count += i
		if i%2 == 0 {
			count = count / 2
		}
	}
	return count
}

func CallStackOne(amount, count int) int {
	return CallStackTwo(amount, spin(amount, count))
}

func CallStackTwo(amount, count int) int {
	return CallStackThree(amount, spin(amount, count))
}

func CallStackThree(amount, count int) int {
	return CallStackFour(amount, spin(amount, count))
}

func CallStackFour(amount, count int) int {
	return spin(amount, count)
}

// Ping and Pong call each other depth times.
func Ping(amount, depth, count int) int {
	count = spin(amount, count)
	if depth <= 0 {
		return count
	}
	return Pong(amount, depth-1, count)
}

func Pong(amount, depth, count int) int {
	count = spin(amount*2, count)
	if depth <= 0 {
		return count
	}
	return Ping(amount, depth-1, count)
}
