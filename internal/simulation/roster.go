package simulation

type rosterEntry struct {
	Number string
	Tla    string
	First  string
	Last   string
	Team   string
	Colour string
}

// roster is the simulated grid, roughly in expected pace order.
var roster = []rosterEntry{
	{"1", "VER", "Max", "Verstappen", "Red Bull Racing", "3671C6"},
	{"11", "PER", "Sergio", "Perez", "Red Bull Racing", "3671C6"},
	{"16", "LEC", "Charles", "Leclerc", "Ferrari", "E8002D"},
	{"55", "SAI", "Carlos", "Sainz", "Ferrari", "E8002D"},
	{"4", "NOR", "Lando", "Norris", "McLaren", "FF8000"},
	{"81", "PIA", "Oscar", "Piastri", "McLaren", "FF8000"},
	{"44", "HAM", "Lewis", "Hamilton", "Mercedes", "27F4D2"},
	{"63", "RUS", "George", "Russell", "Mercedes", "27F4D2"},
	{"14", "ALO", "Fernando", "Alonso", "Aston Martin", "229971"},
	{"18", "STR", "Lance", "Stroll", "Aston Martin", "229971"},
	{"31", "OCO", "Esteban", "Ocon", "Alpine", "0093CC"},
	{"10", "GAS", "Pierre", "Gasly", "Alpine", "0093CC"},
	{"23", "ALB", "Alexander", "Albon", "Williams", "64C4FF"},
	{"2", "SAR", "Logan", "Sargeant", "Williams", "64C4FF"},
	{"22", "TSU", "Yuki", "Tsunoda", "RB", "6692FF"},
	{"3", "RIC", "Daniel", "Ricciardo", "RB", "6692FF"},
	{"77", "BOT", "Valtteri", "Bottas", "Kick Sauber", "52E252"},
	{"24", "ZHO", "Zhou", "Guanyu", "Kick Sauber", "52E252"},
	{"20", "MAG", "Kevin", "Magnussen", "Haas F1 Team", "B6BABD"},
	{"27", "HUL", "Nico", "Hulkenberg", "Haas F1 Team", "B6BABD"},
}

// trackStates are the provider's TrackStatus codes.
var trackStates = []struct {
	Status  string
	Message string
}{
	{"1", "AllClear"},
	{"2", "Yellow"},
	{"4", "SCDeployed"},
	{"6", "VSCDeployed"},
	{"7", "VSCEnding"},
}
